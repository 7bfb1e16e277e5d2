// Package cache provides an in-process expiring cache with single-flight
// request coalescing.
//
// The cache backs the expensive read-through endpoints (TOPIX, per-dataset
// OHLCV, dataset listings): concurrent readers of the same key are coalesced
// onto one fetch, and every entry carries an absolute expiry so stale values
// are never served.
//
// Outcomes distinguish how a value was obtained:
//   - OutcomeHit: a live entry was served without fetching
//   - OutcomeMiss: this caller executed the fetch
//   - OutcomeWait: another caller's in-flight fetch supplied the value
//
// Errors are never cached: a failed fetch is delivered to every waiter of that
// flight and the next caller starts a fresh fetch.
package cache

import (
	"context"
	"sync"
	"time"
)

// Outcome describes how GetOrSet obtained its value.
type Outcome string

// Outcome values for GetOrSet.
const (
	OutcomeHit  Outcome = "hit"
	OutcomeMiss Outcome = "miss"
	OutcomeWait Outcome = "wait"
)

type (
	// entry is a cached value with an absolute expiry.
	entry[V any] struct {
		value     V
		expiresAt time.Time
	}

	// flight is one in-progress fetch. Waiters block on done; value and err
	// are written before done is closed, so the close is the publication
	// point.
	flight[V any] struct {
		done  chan struct{}
		value V
		err   error
	}

	// Cache coalesces concurrent fetches per key and bounds entry lifetime
	// with per-call TTLs. A single mutex guards both the entry map and the
	// in-flight map; it is never held across a fetch.
	Cache[V any] struct {
		mu       sync.Mutex
		entries  map[string]entry[V]
		inflight map[string]*flight[V]
	}
)

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		inflight: make(map[string]*flight[V]),
	}
}

// GetOrSet returns the value for key, fetching it with fetch if no live entry
// exists. Concurrent callers for the same key share a single fetch: the caller
// that started it observes OutcomeMiss, the others OutcomeWait, and all see the
// same value or the same error.
//
// The fetch runs without the cache mutex held and receives the initiating
// caller's context. A successful value is stored with expiry now+max(ttl, 0);
// a fetch error is returned to every waiter and nothing is stored.
//
// Waiters are individually cancellable: a waiter whose ctx is done returns
// ctx.Err() without disturbing the in-flight fetch.
func (c *Cache[V]) GetOrSet(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetch func(context.Context) (V, error),
) (V, Outcome, error) {
	var zero V

	c.mu.Lock()
	c.evictExpiredLocked(time.Now())

	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()

		return e.value, OutcomeHit, nil
	}

	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()

		select {
		case <-fl.done:
			if fl.err != nil {
				return zero, OutcomeWait, fl.err
			}

			return fl.value, OutcomeWait, nil
		case <-ctx.Done():
			return zero, OutcomeWait, ctx.Err()
		}
	}

	fl := &flight[V]{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	value, err := fetch(ctx)

	c.mu.Lock()
	if err == nil {
		if ttl < 0 {
			ttl = 0
		}

		c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	}

	delete(c.inflight, key)
	c.mu.Unlock()

	fl.value = value
	fl.err = err
	close(fl.done)

	if err != nil {
		return zero, OutcomeMiss, err
	}

	return value, OutcomeMiss, nil
}

// Invalidate removes the entry for key, if present. An in-flight fetch for the
// key is unaffected and will install its result normally.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries. In-flight fetches are not cancelled; each will
// install its result when it completes.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry[V])
}

// Len returns the number of live entries, counting expired ones that have not
// been swept yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// evictExpiredLocked sweeps entries whose expiry has passed. Caller holds mu.
// Running the sweep on every call bounds memory without a background goroutine.
func (c *Cache[V]) evictExpiredLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
