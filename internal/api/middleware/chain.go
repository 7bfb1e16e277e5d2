// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/quantlab-io/quantlab/internal/metrics"
)

// Option is a function that applies middleware to a handler.
type Option func(http.Handler) http.Handler

// Apply wraps handler with the given options. The first option becomes the
// outermost middleware, so request-phase effects run in the order listed.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithMetrics(m),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// passthrough is the no-op option used when an optional dependency is absent.
func passthrough(next http.Handler) http.Handler {
	return next
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithRateLimit returns an option that adds inbound rate limiting middleware.
// A nil limiter disables it.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return passthrough
	}

	return RateLimit(limiter, logger)
}

// WithMetrics returns an option that adds request instrumentation middleware.
// Nil metrics disable it.
func WithMetrics(m *metrics.Metrics) Option {
	if m == nil {
		return passthrough
	}

	return Instrument(m)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(config CORSConfigProvider) Option {
	return CORS(config)
}
