// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
)

const (
	serviceName    = "quantlab"
	serviceVersion = "v1.0.0"

	healthCheckTimeout = 2 * time.Second
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Service endpoints
	mux.HandleFunc("GET /ping", s.handlePing)    // liveness probe
	mux.HandleFunc("GET /ready", s.handleReady)  // readiness probe with storage checks
	mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{},
		))
	}

	// Job submission
	mux.HandleFunc("POST /api/backtest", s.handleSubmitBacktest)
	mux.HandleFunc("POST /api/optimize", s.handleSubmitOptimize)
	mux.HandleFunc("POST /api/screening/jobs", s.handleSubmitScreening)
	mux.HandleFunc("POST /api/lab/experiments", s.handleSubmitLab)
	mux.HandleFunc("POST /api/db/sync", s.handleSubmitSync)
	mux.HandleFunc("POST /api/datasets", s.handleSubmitDatasetBuild)

	// Job inspection
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)

	// Dataset reads
	mux.HandleFunc("GET /api/datasets", s.handleListDatasets)
	mux.HandleFunc("GET /api/datasets/{name}/stocks", s.handleDatasetStocks)
	mux.HandleFunc("GET /api/datasets/{name}/stocks/{code}/ohlcv", s.handleDatasetOHLCV)

	// Live market reads
	mux.HandleFunc("GET /api/market/topix", s.handleTopix)
	mux.HandleFunc("GET /api/market/stocks", s.handleMarketStocks)
	mux.HandleFunc("GET /api/market/stocks/{code}/ohlcv", s.handleMarketOHLCV)
	mux.HandleFunc("GET /api/db/sync/runs", s.handleSyncRuns)

	// Portfolio
	mux.HandleFunc("GET /api/portfolio/positions", s.handlePositions)
	mux.HandleFunc("POST /api/portfolio/trades", s.handleRecordTrade)
	mux.HandleFunc("GET /api/portfolio/trades", s.handleListTrades)

	// Catch-all handler for 404 responses
	mux.HandleFunc("/", s.handleNotFound)
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err.Error(),
		)
	}
}

// handleReady responds to readiness probes with storage backend health checks.
//
// Response codes:
//   - 200 OK: both databases are reachable and ready to serve requests
//   - 503 Service Unavailable: a storage backend is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := []struct {
		name  string
		check func(context.Context) error
	}{
		{"market", s.deps.Market.HealthCheck},
		{"portfolio", s.deps.Portfolio.HealthCheck},
	}

	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			s.logger.Error("Storage health check failed",
				"store", c.name,
				"correlation_id", middleware.GetCorrelationID(r.Context()),
				"error", err.Error(),
			)

			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("storage unavailable"))

			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Calculate uptime if server has started
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

// handleNotFound returns the standard 404 envelope for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
