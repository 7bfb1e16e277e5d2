// Package jobs provides the in-memory job registry and the bounded executor
// pool that runs job bodies.
//
// A job is created in pending, moves to running at most once, and ends in
// exactly one terminal status (completed, failed, or cancelled). The registry
// owns the authoritative snapshot for every job and broadcasts each status or
// progress change to subscribers over bounded FIFO queues. The executor
// admits jobs through a global concurrency semaphore, runs the body with a
// kind-specific timeout, and translates the outcome into the final registry
// transition.
//
// The registry is process-local. Restarts lose non-terminal jobs; clients
// must re-submit.
package jobs

import "time"

// Kind identifies the category of work a job performs.
type Kind string

// Job kinds accepted by the submission endpoints.
const (
	KindSync         Kind = "sync"
	KindDatasetBuild Kind = "dataset-build"
	KindBacktest     Kind = "backtest"
	KindOptimization Kind = "optimization"
	KindScreening    Kind = "screening"
	KindLab          Kind = "lab"
)

// Kinds returns every valid job kind, in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindSync,
		KindDatasetBuild,
		KindBacktest,
		KindOptimization,
		KindScreening,
		KindLab,
	}
}

// IsValid reports whether k is a known job kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindSync, KindDatasetBuild, KindBacktest, KindOptimization, KindScreening, KindLab:
		return true
	default:
		return false
	}
}

// String returns the kind as a plain string.
func (k Kind) String() string {
	return string(k)
}

// Status is the lifecycle state of a job.
type Status string

// Job lifecycle statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is one of the three terminal statuses.
// Terminal statuses are immutable: no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the status as a plain string.
func (s Status) String() string {
	return string(s)
}

// Progress is the monotonically-updated progress record carried by a job.
// Percent is a fraction in [0, 1].
type Progress struct {
	Stage   string  `json:"stage"`
	Step    int     `json:"step"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Snapshot is an immutable copy of a job's state at one point in time.
// Registry accessors return snapshots so callers never observe concurrent
// mutation. Progress is nil until the first progress report.
type Snapshot struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Status        Status     `json:"status"`
	Progress      *Progress  `json:"progress"`
	Error         string     `json:"error,omitempty"`
	Result        any        `json:"result,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Event is one frame pushed to subscriber queues on every status or progress
// change. Progress is the fraction complete (nil before the first report) and
// Data carries the kind-specific result on the terminal frame.
type Event struct {
	JobID    string   `json:"id"`
	Status   Status   `json:"status"`
	Progress *float64 `json:"progress"`
	Message  *string  `json:"message"`
	Data     any      `json:"data"`
}

// Update carries the optional fields of a status transition. Zero values
// leave the corresponding job attribute untouched.
type Update struct {
	// Progress replaces the job's progress record when non-nil.
	Progress *Progress

	// Message overrides the human-readable message on the broadcast frame.
	Message string

	// Error is recorded on the job for failed transitions.
	Error string

	// Result installs the kind-specific raw result. Results are write-once
	// and must be set no later than the terminal transition.
	Result any
}
