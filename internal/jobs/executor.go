package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quantlab-io/quantlab/internal/metrics"
)

// ErrNilBody indicates a job was submitted without a body.
var ErrNilBody = errors.New("nil job body")

type (
	// Body is the unit of work a job executes. It receives a context that is
	// cancelled on job cancellation, executor shutdown, or timeout, and a
	// report callback for progress updates. The returned value becomes the
	// job's raw result on success.
	Body func(ctx context.Context, report func(Progress)) (any, error)

	// Executor runs job bodies under a global concurrency semaphore.
	//
	// Submit returns immediately; the body runs on its own goroutine once a
	// slot is free. Slots are granted in FIFO order. Each kind has a hard
	// timeout; on expiry the job fails with a "timed out" error. Outcomes map
	// to exactly one terminal registry transition.
	Executor struct {
		registry *Registry
		sem      *semaphore.Weighted
		timeouts map[Kind]time.Duration

		rootCtx    context.Context
		rootCancel context.CancelFunc
		wg         sync.WaitGroup

		logger  *slog.Logger
		metrics *metrics.Metrics
	}

	// ExecutorOption configures optional Executor behavior.
	ExecutorOption func(*Executor)
)

// WithMetrics attaches Prometheus instrumentation to the executor.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor bound to the given registry.
// Call Close on shutdown to cancel outstanding jobs and drain goroutines.
func NewExecutor(registry *Registry, cfg *Config, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	timeouts := make(map[Kind]time.Duration, len(cfg.Timeouts))
	for kind, d := range cfg.Timeouts {
		timeouts[kind] = d
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Executor{
		registry:   registry,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		timeouts:   timeouts,
		rootCtx:    ctx,
		rootCancel: cancel,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Submit schedules a pending job for execution and returns immediately.
// The job's cancel handle is bound before the worker goroutine starts, so a
// Cancel issued at any later point reaches the body's context.
func (e *Executor) Submit(id string, body Body) error {
	if body == nil {
		return fmt.Errorf("%w: job %s", ErrNilBody, id)
	}

	snap, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	if snap.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, snap.Status)
	}

	ctx, cancel := context.WithCancel(e.rootCtx)

	if err := e.registry.bindCancel(id, cancel); err != nil {
		cancel()

		return err
	}

	e.wg.Add(1)

	go e.run(ctx, cancel, id, snap.Kind, body)

	return nil
}

// Close cancels every queued and running job and waits for their goroutines
// to finalize. Jobs interrupted by shutdown end as cancelled.
func (e *Executor) Close() error {
	e.rootCancel()
	e.wg.Wait()

	return nil
}

// run drives one job from slot acquisition to its terminal transition.
func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, id string, kind Kind, body Body) {
	defer e.wg.Done()
	defer cancel()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while waiting for a slot. No slot was acquired, so none
		// is released here.
		_ = e.registry.UpdateStatus(id, StatusCancelled, Update{Message: "cancelled while queued"})

		e.logger.Info("Job cancelled while queued", slog.String("job_id", id))

		return
	}
	defer e.sem.Release(1)

	started := time.Now()

	if err := e.registry.Start(id); err != nil {
		// Lost a race with cancellation; the job is already terminal.
		e.logger.Debug("Job not started",
			slog.String("job_id", id),
			slog.String("error", err.Error()))

		return
	}

	_ = e.registry.UpdateProgress(id, Progress{Stage: "starting", Message: "job started"})

	e.metrics.ObserveJobStarted(kind.String())

	timeout := e.timeoutFor(kind)
	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()

	result, err := e.invoke(runCtx, id, body)

	final := e.finalize(id, kind, timeout, result, err, runCtx)
	e.metrics.ObserveJobFinished(kind.String(), final.String(), time.Since(started))
}

// finalize maps the body outcome onto the terminal transition.
//
// Cancellation dominates: a cancelled job never finishes as completed even
// when its body returned normally. Timeouts fail with a fixed "timed out"
// message so clients can distinguish them from body errors.
func (e *Executor) finalize(id string, kind Kind, timeout time.Duration, result any, err error, runCtx context.Context) Status {
	switch {
	case e.registry.isCancelled(id) || errors.Is(err, context.Canceled):
		_ = e.registry.UpdateStatus(id, StatusCancelled, Update{Message: "cancelled"})

		e.logger.Info("Job cancelled", slog.String("job_id", id), slog.String("kind", kind.String()))

		return StatusCancelled

	case errors.Is(err, context.DeadlineExceeded) || (err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)):
		_ = e.registry.UpdateStatus(id, StatusFailed, Update{Error: "timed out", Message: "timed out"})

		e.logger.Warn("Job timed out",
			slog.String("job_id", id),
			slog.String("kind", kind.String()),
			slog.Duration("timeout", timeout))

		return StatusFailed

	case err != nil:
		_ = e.registry.UpdateStatus(id, StatusFailed, Update{Error: err.Error()})

		e.logger.Warn("Job failed",
			slog.String("job_id", id),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))

		return StatusFailed

	default:
		done := Progress{Stage: "done", Percent: 1, Message: "completed"}
		_ = e.registry.UpdateStatus(id, StatusCompleted, Update{Result: result, Progress: &done})

		return StatusCompleted
	}
}

// invoke runs the body with panic containment so a misbehaving body fails
// its own job instead of crashing the process.
func (e *Executor) invoke(ctx context.Context, id string, body Body) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Job body panicked",
				slog.String("job_id", id),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))

			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()

	report := func(p Progress) {
		_ = e.registry.UpdateProgress(id, p)
	}

	return body(ctx, report)
}

// timeoutFor returns the hard timeout for a job kind.
func (e *Executor) timeoutFor(kind Kind) time.Duration {
	if d, ok := e.timeouts[kind]; ok && d > 0 {
		return d
	}

	return DefaultTimeout
}
