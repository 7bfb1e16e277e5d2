package jquants

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces the plan's minimum interval between upstream requests,
// serving callers in arrival order.
//
// The mutex is deliberately held across the pacing sleep: whoever arrives
// first sleeps first, and later arrivals queue on the lock, which preserves
// FIFO service order. The last-request timestamp is only advanced when a sleep
// completes, so a cancelled caller leaves the pacing state untouched.
type Limiter struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// NewLimiter creates a limiter paced for the given plan.
func NewLimiter(plan Plan) *Limiter {
	return &Limiter{interval: plan.MinInterval()}
}

// NewLimiterWithInterval creates a limiter with an explicit interval. Used by
// tests and by callers that derive pacing from something other than a plan.
func NewLimiterWithInterval(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Acquire blocks until the caller may issue the next upstream request.
//
// If the previous request was less than the minimum interval ago, Acquire
// sleeps for the remainder while holding the limiter lock. Cancellation aborts
// the sleep and returns ctx.Err() without bumping the timestamp, so waiting
// callers behind the cancelled one observe unchanged pacing.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wait := l.interval - time.Since(l.last)
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.last = time.Now()

	return nil
}

// Interval returns the enforced minimum interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
