package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job state transition validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidTransition indicates a transition the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrTerminalImmutable indicates an attempt to transition away from a terminal status.
	ErrTerminalImmutable = errors.New("terminal status is immutable")

	// ErrJobNotFound indicates the registry holds no job with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotPending indicates an operation that requires a pending job found
	// the job in another state.
	ErrNotPending = errors.New("job is not pending")

	// ErrAlreadySubmitted indicates a second submission of the same job.
	ErrAlreadySubmitted = errors.New("job already submitted")

	// ErrResultAlreadySet indicates a second attempt to install a job result.
	ErrResultAlreadySet = errors.New("job result already set")
)

// ValidateTransition validates a job status transition.
//
// Valid transitions:
//   - pending → {running, cancelled}
//   - running → {running, completed, failed, cancelled}
//
// running → running is permitted so progress re-broadcasts reuse the same
// path as real transitions. Terminal statuses (completed, failed, cancelled)
// accept no transition at all, including to themselves; cancel idempotency is
// handled by the registry before it reaches the state machine.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalImmutable, from, to)
	}

	switch from {
	case StatusPending:
		if to == StatusRunning || to == StatusCancelled {
			return nil
		}
	case StatusRunning:
		if to == StatusRunning || to.IsTerminal() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
