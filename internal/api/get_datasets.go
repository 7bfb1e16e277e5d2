// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/cache"
	"github.com/quantlab-io/quantlab/internal/datasets"
	"github.com/quantlab-io/quantlab/internal/ingestion"
)

// Read-through TTLs for the dataset endpoints. Dataset files only change
// when a build job replaces them, so short TTLs are purely about bounding
// staleness after a rebuild.
const (
	datasetListTTL = 30 * time.Second
	ohlcvTTL       = 60 * time.Second
)

// observeCache records a cache outcome when metrics are wired.
func (s *Server) observeCache(name string, outcome cache.Outcome) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCacheOutcome(name, string(outcome))
	}
}

// handleListDatasets lists the dataset snapshots on disk.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, outcome, err := s.datasetCache.GetOrSet(r.Context(), "datasets", datasetListTTL,
		func(ctx context.Context) ([]datasets.Dataset, error) {
			return s.deps.Datasets.List(ctx)
		})

	s.observeCache("datasets", outcome)

	if err != nil {
		s.logger.Error("Failed to list datasets",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list datasets"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, DatasetListResponse{
		Datasets: list,
		Count:    len(list),
	})
}

// handleDatasetStocks lists the stock codes present in one dataset.
//
// Response codes:
//   - 200 OK: code list in the body
//   - 400 Bad Request: malformed dataset name
//   - 404 Not Found: no dataset of that name
func (s *Server) handleDatasetStocks(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	store, err := s.deps.Datasets.Store(name)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, datasetErrorResponse(name, err))

		return
	}

	stocks, err := store.StockCodes(r.Context())
	if err != nil {
		s.logger.Error("Failed to list dataset stocks",
			slog.String("dataset", name),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list dataset stocks"))

		return
	}

	if stocks == nil {
		stocks = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, StockListResponse{
		Dataset: name,
		Stocks:  stocks,
		Count:   len(stocks),
	})
}

// handleDatasetOHLCV returns the OHLCV history for one stock in a dataset.
//
// Response codes:
//   - 200 OK: bars in the body
//   - 400 Bad Request: malformed dataset name, stock code, or date bound
//   - 404 Not Found: no dataset of that name, or no bars for the code
func (s *Server) handleDatasetOHLCV(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	code, errResp := canonicalCode("code", r.PathValue("code"))
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if errResp := validateDateRange(from, to); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	store, err := s.deps.Datasets.Store(name)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, datasetErrorResponse(name, err))

		return
	}

	// The "ds" prefix keeps dataset keys from colliding with the live-market
	// keys, since "live" is itself a legal dataset name.
	key := fmt.Sprintf("ohlcv|ds|%s|%s|%s|%s", name, code, from, to)

	quotes, outcome, err := s.ohlcvCache.GetOrSet(r.Context(), key, ohlcvTTL,
		func(ctx context.Context) ([]ingestion.Quote, error) {
			return store.DailyQuotes(ctx, code, from, to)
		})

	s.observeCache("ohlcv", outcome)

	if err != nil {
		s.logger.Error("Failed to read dataset quotes",
			slog.String("dataset", name),
			slog.String("code", code),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read quotes"))

		return
	}

	if len(quotes) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No quotes for code "+code+" in dataset "+name))

		return
	}

	s.writeJSON(w, r, http.StatusOK, OHLCVResponse{
		Code:    code,
		Dataset: name,
		From:    from,
		To:      to,
		Count:   len(quotes),
		Quotes:  quotes,
	})
}
