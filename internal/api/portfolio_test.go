// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab-io/quantlab/internal/storage"
)

// recordTrade posts one trade and requires a 201 with the stored row.
func recordTrade(t *testing.T, s *Server, payload string) storage.Trade {
	t.Helper()

	rec := doRequest(t, s, http.MethodPost, "/api/portfolio/trades", strings.NewReader(payload))
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	return decodeBody[storage.Trade](t, rec)
}

func positions(t *testing.T, s *Server) []storage.Position {
	t.Helper()

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	return decodeBody[PositionListResponse](t, rec).Positions
}

func TestRecordTrade_BuyOpensPosition(t *testing.T) {
	s := newTestServer(t)

	stored := recordTrade(t, s, `{"code":"7203","side":"buy","quantity":100,"price":2500.5}`)

	assert.Positive(t, stored.ID)
	assert.Equal(t, "7203", stored.Code)
	assert.Equal(t, "buy", stored.Side)

	_, err := time.Parse(time.RFC3339, stored.ExecutedAt)
	assert.NoError(t, err, "executedAt should default to a timestamp")

	held := positions(t, s)
	require.Len(t, held, 1)
	assert.Equal(t, "7203", held[0].Code)
	assert.Equal(t, int64(100), held[0].Quantity)
	assert.InDelta(t, 2500.5, held[0].AvgPrice, 1e-9)
}

func TestRecordTrade_NormalizesSideAndCode(t *testing.T) {
	s := newTestServer(t)

	stored := recordTrade(t, s, `{"code":"72030","side":" BUY ","quantity":10,"price":100}`)

	assert.Equal(t, "7203", stored.Code)
	assert.Equal(t, "buy", stored.Side)
}

func TestRecordTrade_BuyAveragesCost(t *testing.T) {
	s := newTestServer(t)

	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":100,"price":100}`)
	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":100,"price":200}`)

	held := positions(t, s)
	require.Len(t, held, 1)
	assert.Equal(t, int64(200), held[0].Quantity)
	assert.InDelta(t, 150, held[0].AvgPrice, 1e-9)
}

func TestRecordTrade_SellReducesThenClosesPosition(t *testing.T) {
	s := newTestServer(t)

	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":100,"price":100}`)
	recordTrade(t, s, `{"code":"7203","side":"sell","quantity":40,"price":110}`)

	held := positions(t, s)
	require.Len(t, held, 1)
	assert.Equal(t, int64(60), held[0].Quantity)

	recordTrade(t, s, `{"code":"7203","side":"sell","quantity":60,"price":120}`)

	assert.Empty(t, positions(t, s))
}

func TestRecordTrade_SellWithoutPosition(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/portfolio/trades",
		strings.NewReader(`{"code":"7203","side":"sell","quantity":10,"price":100}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordTrade_SellExceedingPosition(t *testing.T) {
	s := newTestServer(t)

	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":10,"price":100}`)

	rec := doRequest(t, s, http.MethodPost, "/api/portfolio/trades",
		strings.NewReader(`{"code":"7203","side":"sell","quantity":20,"price":100}`))

	require.Equal(t, http.StatusConflict, rec.Code)

	// The rejected sell must not touch the position.
	held := positions(t, s)
	require.Len(t, held, 1)
	assert.Equal(t, int64(10), held[0].Quantity)
}

func TestRecordTrade_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{
			name:    "unknown side",
			payload: `{"code":"7203","side":"hold","quantity":10,"price":100}`,
			field:   "side",
		},
		{
			name:    "zero quantity",
			payload: `{"code":"7203","side":"buy","quantity":0,"price":100}`,
			field:   "quantity",
		},
		{
			name:    "negative price",
			payload: `{"code":"7203","side":"buy","quantity":10,"price":-1}`,
			field:   "price",
		},
		{
			name:    "malformed code",
			payload: `{"code":"XY","side":"buy","quantity":10,"price":100}`,
			field:   "code",
		},
		{
			name:    "malformed executedAt",
			payload: `{"code":"7203","side":"buy","quantity":10,"price":100,"executedAt":"yesterday"}`,
			field:   "executedAt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := doRequest(t, s, http.MethodPost, "/api/portfolio/trades",
				strings.NewReader(tt.payload))

			require.Equal(t, http.StatusBadRequest, rec.Code)

			envelope := decodeBody[ErrorResponse](t, rec)
			require.Len(t, envelope.Details, 1)
			assert.Equal(t, tt.field, envelope.Details[0].Field)
		})
	}
}

func TestListTrades(t *testing.T) {
	s := newTestServer(t)

	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":10,"price":100}`)
	recordTrade(t, s, `{"code":"9984","side":"buy","quantity":20,"price":200}`)
	recordTrade(t, s, `{"code":"7203","side":"sell","quantity":5,"price":110}`)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/trades", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[TradeListResponse](t, rec)
	require.Equal(t, 3, resp.Count)

	// Newest first.
	assert.Equal(t, "sell", resp.Trades[0].Side)
	assert.Equal(t, "9984", resp.Trades[1].Code)
}

func TestListTrades_FilterByCode(t *testing.T) {
	s := newTestServer(t)

	recordTrade(t, s, `{"code":"7203","side":"buy","quantity":10,"price":100}`)
	recordTrade(t, s, `{"code":"9984","side":"buy","quantity":20,"price":200}`)

	// The 5-digit form selects the same stock as the stored 4-digit code.
	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/trades?code=72030", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[TradeListResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "7203", resp.Trades[0].Code)
}

func TestListTrades_LimitApplied(t *testing.T) {
	s := newTestServer(t)

	for range 3 {
		recordTrade(t, s, `{"code":"7203","side":"buy","quantity":10,"price":100}`)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/trades?limit=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[TradeListResponse](t, rec).Count)
}

func TestListTrades_InvalidParams(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{
		"/api/portfolio/trades?limit=-1",
		"/api/portfolio/trades?code=bogus",
	} {
		rec := doRequest(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestPositions_EmptyPortfolio(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio/positions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}
