package jquants

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Acquire_FIFOOrderWithMinimumGaps(t *testing.T) {
	limiter := NewLimiter(PlanPremium)
	interval := limiter.Interval()
	require.Equal(t, 132*time.Millisecond, interval)

	var (
		mu          sync.Mutex
		order       []int
		completions []time.Time
		wg          sync.WaitGroup
	)

	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			err := limiter.Acquire(context.Background())
			require.NoError(t, err)

			mu.Lock()
			order = append(order, idx)
			completions = append(completions, time.Now())
			mu.Unlock()
		}(i)

		// Stagger submissions so arrival order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}

	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order, "completions must follow submission order")

	minGap := time.Duration(float64(interval) * 0.9)
	for k := 1; k < len(completions); k++ {
		gap := completions[k].Sub(completions[k-1])
		assert.GreaterOrEqual(t, gap, minGap,
			"gap between call %d and %d below the enforced interval", k-1, k)
	}
}

func TestLimiter_Acquire_PacesSequentialCalls(t *testing.T) {
	const interval = 50 * time.Millisecond

	limiter := NewLimiterWithInterval(interval)
	start := time.Now()

	for k := 0; k < 4; k++ {
		err := limiter.Acquire(context.Background())
		require.NoError(t, err)

		// The k-th call (zero-based) completes at or after k*interval,
		// with a small scheduling allowance.
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, time.Duration(float64(k)*float64(interval)*0.9))
	}
}

func TestLimiter_Acquire_CancellationPreservesPacing(t *testing.T) {
	const interval = 200 * time.Millisecond

	limiter := NewLimiterWithInterval(interval)

	// First acquire is immediate and sets the timestamp.
	require.NoError(t, limiter.Acquire(context.Background()))
	first := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The cancelled caller must not have bumped the timestamp: the next
	// acquire waits relative to the first call only.
	require.NoError(t, limiter.Acquire(context.Background()))
	sinceFirst := time.Since(first)

	assert.GreaterOrEqual(t, sinceFirst, time.Duration(float64(interval)*0.9))
	assert.Less(t, sinceFirst, 2*interval)
}

func TestLimiter_Acquire_AlreadyCancelledContext(t *testing.T) {
	limiter := NewLimiterWithInterval(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiter_Acquire_FirstCallIsImmediate(t *testing.T) {
	limiter := NewLimiter(PlanFree)

	start := time.Now()
	require.NoError(t, limiter.Acquire(context.Background()))

	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"the first call has no predecessor and must not sleep")
}
