// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/codes"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// handlePositions returns the current holdings.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.deps.Portfolio.Positions(r.Context())
	if err != nil {
		s.logger.Error("Failed to list positions",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list positions"))

		return
	}

	if positions == nil {
		positions = []storage.Position{}
	}

	s.writeJSON(w, r, http.StatusOK, PositionListResponse{
		Positions: positions,
		Count:     len(positions),
	})
}

// handleRecordTrade records one executed trade and updates the affected
// position in the same transaction.
//
// Response codes:
//   - 201 Created: stored trade in the body, ID assigned
//   - 400 Bad Request: malformed payload, code, side, quantity, or price
//   - 409 Conflict: sell exceeds the held quantity
func (s *Server) handleRecordTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	executedAt := req.ExecutedAt
	if executedAt == "" {
		executedAt = time.Now().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, executedAt); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid trade").
			WithDetails(FieldError{Field: "executedAt", Message: "must be an RFC 3339 timestamp"}))

		return
	}

	trade := storage.Trade{
		Code:       req.Code,
		Side:       strings.ToLower(strings.TrimSpace(req.Side)),
		Quantity:   req.Quantity,
		Price:      req.Price,
		ExecutedAt: executedAt,
	}

	stored, err := s.deps.Portfolio.RecordTrade(r.Context(), trade)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, tradeErrorResponse(err))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, stored)
}

// tradeErrorResponse maps trade recording failures onto the error taxonomy.
func tradeErrorResponse(err error) *ErrorResponse {
	switch {
	case errors.Is(err, storage.ErrInvalidTradeSide):
		return BadRequest("Invalid trade").
			WithDetails(FieldError{Field: "side", Message: "must be buy or sell"})
	case errors.Is(err, storage.ErrInvalidQuantity):
		return BadRequest("Invalid trade").
			WithDetails(FieldError{Field: "quantity", Message: "must be a positive integer"})
	case errors.Is(err, storage.ErrInvalidPrice):
		return BadRequest("Invalid trade").
			WithDetails(FieldError{Field: "price", Message: "must be positive"})
	case errors.Is(err, codes.ErrInvalidCode), errors.Is(err, codes.ErrEmptyCode):
		return BadRequest("Invalid trade").
			WithDetails(FieldError{Field: "code", Message: err.Error()})
	case errors.Is(err, storage.ErrInsufficientPosition):
		return Conflict("Sell exceeds the held quantity")
	default:
		return InternalServerError("Failed to record trade")
	}
}

// handleListTrades returns the trade ledger, newest first, optionally
// filtered to one stock.
//
// Response codes:
//   - 200 OK: trades in the body
//   - 400 Bad Request: malformed code or limit
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	code := ""

	if raw := r.URL.Query().Get("code"); raw != "" {
		canonical, errResp := canonicalCode("code", raw)
		if errResp != nil {
			WriteErrorResponse(w, r, s.logger, errResp)

			return
		}

		code = canonical
	}

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

	trades, err := s.deps.Portfolio.Trades(r.Context(), code, limit)
	if err != nil {
		s.logger.Error("Failed to list trades",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list trades"))

		return
	}

	if trades == nil {
		trades = []storage.Trade{}
	}

	s.writeJSON(w, r, http.StatusOK, TradeListResponse{
		Trades: trades,
		Count:  len(trades),
	})
}
