// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// topixTTL bounds staleness of the TOPIX read-through cache. Index data only
// changes when a sync publishes new sessions.
const topixTTL = 5 * time.Minute

// handleTopix returns the stored TOPIX index history.
//
// Response codes:
//   - 200 OK: bars in the body
//   - 400 Bad Request: malformed date bound
//   - 404 Not Found: no index data stored yet
func (s *Server) handleTopix(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	if errResp := validateDateRange(from, to); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	key := fmt.Sprintf("topix|%s|%s", from, to)

	bars, outcome, err := s.topixCache.GetOrSet(r.Context(), key, topixTTL,
		func(ctx context.Context) ([]ingestion.TopixBar, error) {
			return s.deps.Market.Topix(ctx, from, to)
		})

	s.observeCache("topix", outcome)

	if err != nil {
		s.logger.Error("Failed to read TOPIX history",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read TOPIX history"))

		return
	}

	if len(bars) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No TOPIX data stored; run a sync first"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, TopixResponse{
		From:  from,
		To:    to,
		Count: len(bars),
		Bars:  bars,
	})
}

// handleMarketStocks lists every stock code in the live market database.
func (s *Server) handleMarketStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.deps.Market.StockCodes(r.Context())
	if err != nil {
		s.logger.Error("Failed to list market stocks",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list stocks"))

		return
	}

	if stocks == nil {
		stocks = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, StockListResponse{
		Stocks: stocks,
		Count:  len(stocks),
	})
}

// handleMarketOHLCV returns the OHLCV history for one stock in the live
// market database.
//
// Response codes:
//   - 200 OK: bars in the body
//   - 400 Bad Request: malformed stock code or date bound
//   - 404 Not Found: no bars stored for the code
func (s *Server) handleMarketOHLCV(w http.ResponseWriter, r *http.Request) {
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

	key := fmt.Sprintf("ohlcv|live|%s|%s|%s", code, from, to)

	quotes, outcome, err := s.ohlcvCache.GetOrSet(r.Context(), key, ohlcvTTL,
		func(ctx context.Context) ([]ingestion.Quote, error) {
			return s.deps.Market.DailyQuotes(ctx, code, from, to)
		})

	s.observeCache("ohlcv", outcome)

	if err != nil {
		s.logger.Error("Failed to read market quotes",
			slog.String("code", code),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read quotes"))

		return
	}

	if len(quotes) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No quotes stored for code "+code))

		return
	}

	s.writeJSON(w, r, http.StatusOK, OHLCVResponse{
		Code:   code,
		From:   from,
		To:     to,
		Count:  len(quotes),
		Quotes: quotes,
	})
}

// handleSyncRuns returns the recent sync history, newest first. The limit
// query parameter caps the rows; the store default applies when absent.
func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest("Invalid limit").
				WithDetails(FieldError{Field: "limit", Message: "must be a positive integer"}))

			return
		}

		limit = parsed
	}

	runs, err := s.deps.Market.RecentSyncRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sync runs",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list sync runs"))

		return
	}

	if runs == nil {
		runs = []storage.SyncRun{}
	}

	s.writeJSON(w, r, http.StatusOK, SyncRunListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}
