// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/cache"
	"github.com/quantlab-io/quantlab/internal/datasets"
	"github.com/quantlab-io/quantlab/internal/engine"
	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/jobs"
	"github.com/quantlab-io/quantlab/internal/jquants"
	"github.com/quantlab-io/quantlab/internal/metrics"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// ErrMissingDependency indicates NewServer was called without a required
// dependency.
var ErrMissingDependency = errors.New("missing server dependency")

type (
	// Dependencies carries the collaborators the HTTP surface dispatches to.
	//
	// Logger, Metrics, and RateLimiter are optional: a nil logger is replaced
	// with one built from the server config, nil metrics disables
	// instrumentation, and a nil rate limiter disables inbound limiting.
	// Everything else is required.
	Dependencies struct {
		Logger      *slog.Logger
		Metrics     *metrics.Metrics
		Registry    *jobs.Registry
		Executor    *jobs.Executor
		Engine      *engine.Engine
		Market      *storage.MarketStore
		Portfolio   *storage.PortfolioStore
		Datasets    *datasets.Router
		Upstream    *jquants.Client
		RateLimiter middleware.RateLimiter
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		deps       Dependencies

		// Read-through caches for the hot market endpoints. Keys carry the
		// full query shape; TTLs are per data family.
		topixCache   *cache.Cache[[]ingestion.TopixBar]
		ohlcvCache   *cache.Cache[[]ingestion.Quote]
		datasetCache *cache.Cache[[]datasets.Dataset]
	}
)

// NewServer creates a new HTTP server instance with structured logging and
// middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig.
// This follows the dependency injection pattern where configuration (what) is
// separated from dependencies (how).
func NewServer(cfg *ServerConfig, deps Dependencies) (*Server, error) {
	if err := validateDependencies(deps); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		}))
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:       logger,
		config:       cfg,
		deps:         deps,
		topixCache:   cache.New[[]ingestion.TopixBar](),
		ohlcvCache:   cache.New[[]ingestion.Quote](),
		datasetCache: cache.New[[]datasets.Dataset](),
	}

	server.setupRoutes(mux)

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Apply middleware chain using functional options pattern.
	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. RateLimit - block requests before expensive operations (optional)
	//   4. Metrics - observe requests that passed the limiter (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithMetrics(deps.Metrics),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// validateDependencies rejects a Dependencies value missing any required
// collaborator before a nil dereference can reach a request path.
func validateDependencies(deps Dependencies) error {
	required := []struct {
		name string
		ok   bool
	}{
		{"registry", deps.Registry != nil},
		{"executor", deps.Executor != nil},
		{"engine", deps.Engine != nil},
		{"market store", deps.Market != nil},
		{"portfolio store", deps.Portfolio != nil},
		{"dataset router", deps.Datasets != nil},
		{"upstream client", deps.Upstream != nil},
	}

	for _, dep := range required {
		if !dep.ok {
			return fmt.Errorf("%w: %s", ErrMissingDependency, dep.name)
		}
	}

	return nil
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("Starting QuantLab API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
//
// The executor closes before the HTTP listener: closing it drives every
// outstanding job to a terminal state, which ends the jobs' event streams, so
// the subsequent Shutdown is not held open by long-lived SSE responses.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	s.logger.Info("Closing job executor")

	if err := s.deps.Executor.Close(); err != nil {
		s.logger.Error("Failed to close job executor", slog.String("error", err.Error()))
	}

	// Attempt graceful shutdown of HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close rate limiter to stop (InMemoryRateLimiter) background cleanup goroutines
	if s.deps.RateLimiter != nil {
		s.logger.Info("Closing rate limiter")

		if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
