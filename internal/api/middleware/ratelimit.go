// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	secondsPerMinute           = 60
	burstCapacityMultiplier    = 2
	maxClients             int = 10_000
	defaultGlobalRPM       int = 3000
	defaultClientRPM       int = 300
	thresholdMultiplier        = 0.8
	thresholdPercentage        = 80

	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or distributed stores like Redis (multi-node deployment). The interface
	// enables swapping the backing store without touching the middleware.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// clientID identifies the caller, normally the client IP. An empty
		// clientID is checked against the global tier only.
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides two-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-client limit (keyed by client IP)
	//
	// Uses token bucket algorithm with configurable burst capacity. Limits are
	// configured in requests per minute; buckets refill continuously.
	//
	// Memory cleanup runs periodically to prevent unbounded growth. Clients
	// idle longer than IdleTimeout are removed.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		// Configuration (stored for creating new client limiters and cleanup)
		clientRPM       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
	}

	// clientLimiter tracks rate limit state for a single client.
	// Includes last access time for memory cleanup.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// Ensure we implement the interface at compile time.
var _ RateLimiter = (*InMemoryRateLimiter)(nil)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with two-tier
// limits.
//
// Burst capacity is computed automatically as two seconds worth of the
// sustained rate unless overridden in config. Cleanup runs periodically to
// prevent unbounded memory growth.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPM: 3000,
//	    ClientRPM: 300,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPM, config.GlobalBurst)
	clientBurst := computeBurstCapacity(config.ClientRPM, config.ClientBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(perSecond(config.GlobalRPM), globalBurst),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPM:       config.ClientRPM,
		clientBurst:     clientBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      config.MaxClients,
	}

	rl.startCleanup()

	return rl
}

// perSecond converts a per-minute limit into the token bucket refill rate.
func perSecond(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / secondsPerMinute)
}

// computeBurstCapacity computes the burst capacity based on the per-minute
// rate and optional override.
//
// If burstOverride is 0, burst is two seconds worth of the sustained rate,
// with a floor of 1 so low limits still admit single requests.
func computeBurstCapacity(rpm, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	burst := rpm * burstCapacityMultiplier / secondsPerMinute
	if burst < 1 {
		burst = 1
	}

	return burst
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Rate limiting is enforced in two tiers:
// 1. Global limit (all requests)
// 2. Per-client limit (skipped when clientID is empty)
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	// Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	if clientID == "" {
		return true
	}

	rl.mu.RLock()
	cl, ok := rl.perClient[clientID]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this client
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if cl, ok = rl.perClient[clientID]; !ok {
			cl = &clientLimiter{
				limiter:    rate.NewLimiter(perSecond(rl.clientRPM), rl.clientBurst),
				lastAccess: time.Now(),
			}

			rl.perClient[clientID] = cl

			// Operational monitoring: warn when approaching the client map
			// cap so operators notice address churn before memory grows.
			currentCount := len(rl.perClient)
			threshold := int(float64(rl.maxClients) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max clients limit",
					"current_clients", currentCount,
					"max_clients", rl.maxClients,
					"threshold_percent", thresholdPercentage,
				)
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
// Must be called when the InMemoryRateLimiter is no longer needed.
//
// Note: Close() is not part of the RateLimiter interface to allow
// implementations that don't require cleanup. Use type assertion if cleanup
// is needed:
//
//	if closer, ok := limiter.(io.Closer); ok {
//	    closer.Close()
//	}
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}

		close(rl.done)
	})

	return nil
}

// startCleanup starts a background goroutine that periodically removes
// stale client limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes client limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perClient, clientID)
		}
	}
}

// clientKey identifies the caller for per-client rate limiting.
//
// Behind a reverse proxy the first X-Forwarded-For entry names the original
// client; otherwise the connection's remote address is used.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests.
//
// When a request exceeds the rate limit, the middleware returns a 429
// (Too Many Requests) response in the standard error envelope.
//
// Example:
//
//	rateLimiter := NewInMemoryRateLimiter(LoadConfig())
//	defer rateLimiter.Close()
//
//	handler = RateLimit(rateLimiter, logger)(handler)
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				writeError(w, r, logger, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after some time.")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
