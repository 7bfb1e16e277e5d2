package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for registry tuning knobs, overridable via options.
const (
	// DefaultQueueSize bounds each subscriber's event queue.
	DefaultQueueSize = 100

	// DefaultCleanupInterval is the cadence of the terminal-job GC pass.
	DefaultCleanupInterval = time.Hour

	// DefaultRetention is how long terminal jobs stay visible before GC.
	DefaultRetention = 24 * time.Hour
)

type (
	// Registry owns the authoritative state of every job in the process.
	//
	// All reads return snapshot copies, all writes go through the transition
	// validator, and every accepted write is broadcast to the job's
	// subscribers before the registry mutex is released. Subscriber queues
	// are bounded: when a queue is full the oldest frame is dropped so a slow
	// SSE consumer can never block a transition.
	//
	// A background goroutine removes terminal jobs past the retention window.
	// Close stops it; it does not interrupt running jobs.
	Registry struct {
		mu          sync.Mutex
		jobs        map[string]*job
		subscribers map[string][]chan Event

		queueSize       int
		cleanupInterval time.Duration
		retention       time.Duration
		now             func() time.Time

		logger      *slog.Logger
		cleanupStop chan struct{} // Signal to stop cleanup goroutine
		cleanupDone chan struct{} // Signal cleanup has stopped
		closeOnce   sync.Once
	}

	// RegistryOption configures optional Registry behavior.
	RegistryOption func(*Registry)

	// job is the registry-internal mutable record backing one Snapshot.
	// The cancel handle is bound by the executor at submission time.
	job struct {
		snapshot  Snapshot
		cancel    context.CancelFunc
		cancelled bool
		resultSet bool
	}
)

// WithQueueSize overrides the per-subscriber queue bound.
func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithCleanupInterval overrides the GC cadence.
func WithCleanupInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.cleanupInterval = d
		}
	}
}

// WithRetention overrides how long terminal jobs are retained.
func WithRetention(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithClock overrides the registry's time source. Used by tests to age jobs
// deterministically.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a job registry and starts its GC goroutine.
// Call Close to stop the goroutine on shutdown.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		jobs:            make(map[string]*job),
		subscribers:     make(map[string][]chan Event),
		queueSize:       DefaultQueueSize,
		cleanupInterval: DefaultCleanupInterval,
		retention:       DefaultRetention,
		now:             time.Now,
		logger:          logger,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	go r.runCleanup()

	return r
}

// Create registers a new pending job and returns its initial snapshot.
func (r *Registry) Create(kind Kind, correlationID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &job{
		snapshot: Snapshot{
			ID:            uuid.NewString(),
			Kind:          kind,
			Status:        StatusPending,
			CorrelationID: correlationID,
			CreatedAt:     r.now(),
		},
	}
	r.jobs[j.snapshot.ID] = j

	r.logger.Debug("Job created",
		slog.String("job_id", j.snapshot.ID),
		slog.String("kind", kind.String()))

	return j.snapshot
}

// Get returns the current snapshot for id.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return j.snapshot, nil
}

// List returns snapshots of all registered jobs, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.snapshot)
	}

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}

		return out[i].ID < out[k].ID
	})

	return out
}

// Start transitions a job to running. The job must currently be pending;
// a job moves to running at most once.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.snapshot.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, j.snapshot.Status)
	}

	return r.applyLocked(j, StatusRunning, Update{})
}

// UpdateStatus atomically applies a status transition and broadcasts the
// resulting frame to every subscriber of the job. Terminal transitions close
// all subscriber queues after the final frame.
func (r *Registry) UpdateStatus(id string, status Status, update Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return r.applyLocked(j, status, update)
}

// UpdateProgress replaces the job's progress record and broadcasts it.
// Reports that arrive after the job reached a terminal status are dropped;
// a body may legitimately race its own cancellation.
func (r *Registry) UpdateProgress(id string, progress Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.snapshot.Status.IsTerminal() {
		return nil
	}

	p := progress
	j.snapshot.Progress = &p
	r.broadcastLocked(j, "")

	return nil
}

// Subscribe attaches a bounded event queue to the job. If the job is already
// terminal the returned channel carries exactly one snapshot frame and is
// closed; otherwise frames arrive until the terminal transition closes the
// channel. Callers that stop reading early must call Unsubscribe.
func (r *Registry) Subscribe(id string) (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.snapshot.Status.IsTerminal() {
		ch := make(chan Event, 1)
		ch <- r.frame(j, "")
		close(ch)

		return ch, nil
	}

	ch := make(chan Event, r.queueSize)
	r.subscribers[id] = append(r.subscribers[id], ch)

	return ch, nil
}

// Unsubscribe detaches a queue previously returned by Subscribe. The channel
// is not closed here; closing is reserved for the terminal broadcast so a
// concurrent reader never races a close.
func (r *Registry) Unsubscribe(id string, sub <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subscribers[id]
	for i, ch := range list {
		if (<-chan Event)(ch) == sub {
			r.subscribers[id] = append(list[:i], list[i+1:]...)

			break
		}
	}

	if len(r.subscribers[id]) == 0 {
		delete(r.subscribers, id)
	}
}

// Cancel requests cancellation of a job. It sets the cancellation flag and
// fires the executor's cancel handle; the executor observes the cancelled
// context and finalizes the job. Jobs cancelled before submission are
// finalized directly. Cancelling a terminal job is a no-op.
func (r *Registry) Cancel(id string) (Snapshot, error) {
	r.mu.Lock()

	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()

		return Snapshot{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.snapshot.Status.IsTerminal() {
		snap := j.snapshot
		r.mu.Unlock()

		return snap, nil
	}

	j.cancelled = true
	handle := j.cancel

	if handle == nil && j.snapshot.Status == StatusPending {
		// No executor owns this job yet, so nobody else will finalize it.
		if err := r.applyLocked(j, StatusCancelled, Update{Message: "cancelled"}); err != nil {
			r.mu.Unlock()

			return Snapshot{}, err
		}
	}

	snap := j.snapshot
	r.mu.Unlock()

	// The handle is fired outside the mutex: the executor goroutine it wakes
	// re-enters the registry to finalize the job.
	if handle != nil {
		handle()
	}

	r.logger.Info("Job cancellation requested",
		slog.String("job_id", id),
		slog.String("status", snap.Status.String()))

	return snap, nil
}

// Cleanup removes terminal jobs whose completion timestamp is older than the
// given age and returns how many were removed.
func (r *Registry) Cleanup(olderThan time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-olderThan)
	removed := 0

	for id, j := range r.jobs {
		if !j.snapshot.Status.IsTerminal() || j.snapshot.CompletedAt == nil {
			continue
		}

		if j.snapshot.CompletedAt.After(cutoff) {
			continue
		}

		delete(r.jobs, id)

		removed++
	}

	return removed
}

// Close stops the GC goroutine. Safe to call multiple times. Running jobs
// are not affected; stopping them is the executor's concern.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.cleanupStop)
		<-r.cleanupDone
	})

	return nil
}

// bindCancel installs the executor's cancel handle for a pending job.
func (r *Registry) bindCancel(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if j.snapshot.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, j.snapshot.Status)
	}

	if j.cancel != nil {
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, id)
	}

	j.cancel = cancel

	return nil
}

// isCancelled reports whether Cancel has been called for the job.
func (r *Registry) isCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]

	return ok && j.cancelled
}

// applyLocked validates and applies a transition, then broadcasts it.
// Caller holds r.mu.
func (r *Registry) applyLocked(j *job, status Status, update Update) error {
	if err := ValidateTransition(j.snapshot.Status, status); err != nil {
		return fmt.Errorf("job %s: %w", j.snapshot.ID, err)
	}

	if update.Result != nil {
		if j.resultSet {
			return fmt.Errorf("%w: %s", ErrResultAlreadySet, j.snapshot.ID)
		}

		j.snapshot.Result = update.Result
		j.resultSet = true
	}

	now := r.now()
	if status == StatusRunning && j.snapshot.StartedAt == nil {
		t := now
		j.snapshot.StartedAt = &t
	}

	if status.IsTerminal() {
		t := now
		j.snapshot.CompletedAt = &t
	}

	if update.Progress != nil {
		p := *update.Progress
		j.snapshot.Progress = &p
	}

	if update.Error != "" {
		j.snapshot.Error = update.Error
	}

	j.snapshot.Status = status

	r.broadcastLocked(j, update.Message)

	if status.IsTerminal() {
		for _, ch := range r.subscribers[j.snapshot.ID] {
			close(ch)
		}

		delete(r.subscribers, j.snapshot.ID)
	}

	return nil
}

// broadcastLocked pushes the job's current frame to every subscriber queue.
// Caller holds r.mu, which makes this the only producer; the drop-then-push
// sequence in pushFrame relies on that.
func (r *Registry) broadcastLocked(j *job, message string) {
	subs := r.subscribers[j.snapshot.ID]
	if len(subs) == 0 {
		return
	}

	ev := r.frame(j, message)
	for _, ch := range subs {
		r.pushFrame(ch, ev)
	}
}

// pushFrame delivers one frame without ever blocking. When the queue is full
// the oldest frame is dropped to make room; terminal frames are always the
// last frame written to a queue, so the dropped frame is never terminal.
func (r *Registry) pushFrame(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- ev:
	default:
	}
}

// frame builds the broadcast event for the job's current snapshot.
func (r *Registry) frame(j *job, message string) Event {
	var pct *float64

	if j.snapshot.Progress != nil {
		v := j.snapshot.Progress.Percent
		pct = &v
	}

	var msg *string

	switch {
	case message != "":
		m := message
		msg = &m
	case j.snapshot.Status == StatusFailed && j.snapshot.Error != "":
		m := j.snapshot.Error
		msg = &m
	case j.snapshot.Progress != nil && j.snapshot.Progress.Message != "":
		m := j.snapshot.Progress.Message
		msg = &m
	}

	var data any
	if j.snapshot.Status.IsTerminal() {
		data = j.snapshot.Result
	}

	return Event{
		JobID:    j.snapshot.ID,
		Status:   j.snapshot.Status,
		Progress: pct,
		Message:  msg,
		Data:     data,
	}
}

// runCleanup periodically removes terminal jobs past the retention window.
// Runs until cleanupStop is closed via Close().
func (r *Registry) runCleanup() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := r.Cleanup(r.retention); removed > 0 {
				r.logger.Info("Removed expired terminal jobs", slog.Int("removed", removed))
			}
		case <-r.cleanupStop:
			return
		}
	}
}
