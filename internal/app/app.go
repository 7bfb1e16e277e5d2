// Package app assembles the QuantLab service: it loads configuration, builds
// every component, wires them together, and owns their shutdown order.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/quantlab-io/quantlab/internal/api"
	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/datasets"
	"github.com/quantlab-io/quantlab/internal/engine"
	"github.com/quantlab-io/quantlab/internal/jobs"
	"github.com/quantlab-io/quantlab/internal/jquants"
	"github.com/quantlab-io/quantlab/internal/metrics"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// App is the assembled service. It owns every long-lived component and
// releases them in reverse assembly order on Close.
type App struct {
	cfg    *Config
	logger *slog.Logger

	marketConn    *storage.Connection
	portfolioConn *storage.Connection
	registry      *jobs.Registry
	executor      *jobs.Executor
	router        *datasets.Router
	limiter       *middleware.InMemoryRateLimiter
	server        *api.Server
}

// New loads configuration from the environment and builds the service.
// A partially built App is torn down before the error returns.
func New() (*App, error) {
	cfg := LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	assembled := false
	defer func() {
		if !assembled {
			_ = a.Close()
		}
	}()

	if err := a.openStorage(); err != nil {
		return nil, err
	}

	jobsCfg, err := jobs.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading jobs configuration: %w", err)
	}

	m := metrics.New()

	a.registry = jobs.NewRegistry(logger,
		jobs.WithQueueSize(jobsCfg.QueueSize),
		jobs.WithCleanupInterval(jobsCfg.CleanupInterval),
		jobs.WithRetention(jobsCfg.Retention),
	)
	a.executor = jobs.NewExecutor(a.registry, jobsCfg, logger, jobs.WithMetrics(m))
	a.router = datasets.NewRouter(cfg.Storage.DatasetBasePath, logger)
	a.limiter = middleware.NewInMemoryRateLimiter(cfg.RateLimit)

	server, err := api.NewServer(cfg.Server, api.Dependencies{
		Logger:      logger,
		Metrics:     m,
		Registry:    a.registry,
		Executor:    a.executor,
		Engine:      engine.NewEngine(logger),
		Market:      storage.NewMarketStore(a.marketConn, logger),
		Portfolio:   storage.NewPortfolioStore(a.portfolioConn, logger),
		Datasets:    a.router,
		Upstream:    jquants.NewClient(cfg.Upstream, logger),
		RateLimiter: a.limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("building server: %w", err)
	}

	a.server = server

	logger.Info("QuantLab service assembled",
		slog.String("market_db", cfg.Storage.MarketDBPath),
		slog.String("portfolio_db", cfg.Storage.PortfolioDBPath),
		slog.String("dataset_dir", cfg.Storage.DatasetBasePath),
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.String("plan", cfg.Upstream.Plan),
		slog.Int("max_concurrent_jobs", jobsCfg.MaxConcurrent),
	)

	assembled = true

	return a, nil
}

// openStorage opens and migrates both databases.
func (a *App) openStorage() error {
	conn, err := storage.OpenReadWrite(a.cfg.Storage.MarketDBPath)
	if err != nil {
		return fmt.Errorf("opening market database: %w", err)
	}

	a.marketConn = conn

	if err := storage.MigrateMarket(conn, a.logger); err != nil {
		return fmt.Errorf("migrating market database: %w", err)
	}

	conn, err = storage.OpenReadWrite(a.cfg.Storage.PortfolioDBPath)
	if err != nil {
		return fmt.Errorf("opening portfolio database: %w", err)
	}

	a.portfolioConn = conn

	if err := storage.MigratePortfolio(conn, a.logger); err != nil {
		return fmt.Errorf("migrating portfolio database: %w", err)
	}

	return nil
}

// Logger exposes the service logger for the entry point's own messages.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Run starts the HTTP server and blocks until a shutdown signal or a fatal
// server error. The server's own shutdown path drains the executor before
// closing the listener.
func (a *App) Run() error {
	return a.server.Start()
}

// Close releases every component in reverse assembly order. Safe to call on
// a partially built App and after Run has returned; component closes are
// idempotent where double closing is possible.
func (a *App) Close() error {
	var errs []error

	if a.executor != nil {
		if err := a.executor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing executor: %w", err))
		}
	}

	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing registry: %w", err))
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rate limiter: %w", err))
		}
	}

	if a.router != nil {
		if err := a.router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing dataset router: %w", err))
		}
	}

	if a.portfolioConn != nil {
		if err := a.portfolioConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing portfolio database: %w", err))
		}
	}

	if a.marketConn != nil {
		if err := a.marketConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing market database: %w", err))
		}
	}

	return errors.Join(errs...)
}
