// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/storage"
)

func seedTopix(t *testing.T, store *storage.MarketStore, dates ...string) {
	t.Helper()

	bars := make([]ingestion.TopixBar, len(dates))
	for i, date := range dates {
		bars[i] = ingestion.TopixBar{
			TradeDate: date,
			Open:      2500, High: 2520, Low: 2490, Close: 2510,
		}
	}

	_, err := store.PublishTopix(context.Background(), bars)
	require.NoError(t, err)
}

func TestTopix(t *testing.T) {
	s := newTestServer(t)
	seedTopix(t, s.deps.Market, "2024-01-04", "2024-01-05", "2024-01-09")

	rec := doRequest(t, s, http.MethodGet, "/api/market/topix?from=2024-01-05", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[TopixResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "2024-01-05", resp.Bars[0].TradeDate)
	assert.Equal(t, "2024-01-09", resp.Bars[1].TradeDate)
	assert.Equal(t, "2024-01-05", resp.From)
}

func TestTopix_EmptyStoreReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/market/topix", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)

	envelope := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, envelope.Message, "sync")
}

func TestTopix_InvalidDate(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/market/topix?to=2024/01/05", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	envelope := decodeBody[ErrorResponse](t, rec)
	require.Len(t, envelope.Details, 1)
	assert.Equal(t, "to", envelope.Details[0].Field)
}

func TestMarketStocks(t *testing.T) {
	s := newTestServer(t)
	seedHistory(t, s.deps.Market, "9984", 1)
	seedHistory(t, s.deps.Market, "7203", 1)

	rec := doRequest(t, s, http.MethodGet, "/api/market/stocks", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeBody[StockListResponse](t, rec)
	assert.Equal(t, []string{"7203", "9984"}, list.Stocks)
	assert.Equal(t, 2, list.Count)
	assert.Empty(t, list.Dataset)
}

func TestMarketStocks_EmptyStore(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/market/stocks", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stocks":[]`)
}

func TestMarketOHLCV(t *testing.T) {
	s := newTestServer(t)
	seedHistory(t, s.deps.Market, "7203", 5)

	rec := doRequest(t, s, http.MethodGet,
		"/api/market/stocks/72030/ohlcv?from=2024-01-03", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[OHLCVResponse](t, rec)
	assert.Equal(t, "7203", resp.Code)
	assert.Empty(t, resp.Dataset)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "2024-01-03", resp.Quotes[0].TradeDate)
}

func TestMarketOHLCV_UnknownCode(t *testing.T) {
	s := newTestServer(t)
	seedHistory(t, s.deps.Market, "7203", 5)

	rec := doRequest(t, s, http.MethodGet, "/api/market/stocks/6758/ohlcv", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketOHLCV_InvalidCode(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/market/stocks/abc/ohlcv", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	envelope := decodeBody[ErrorResponse](t, rec)
	require.Len(t, envelope.Details, 1)
	assert.Equal(t, "code", envelope.Details[0].Field)
}

func TestSyncRuns(t *testing.T) {
	s := newTestServer(t)

	ctx := context.Background()
	require.NoError(t, s.deps.Market.RecordSyncRun(ctx, storage.SyncRun{
		StartedAt: "2024-01-01T00:00:00Z", FinishedAt: "2024-01-01T00:01:00Z",
		Status: "completed", Fetched: 10, Validated: 10, Published: 10,
	}))
	require.NoError(t, s.deps.Market.RecordSyncRun(ctx, storage.SyncRun{
		StartedAt: "2024-01-02T00:00:00Z", FinishedAt: "2024-01-02T00:00:30Z",
		Status: "failed", Error: "upstream unavailable",
	}))

	rec := doRequest(t, s, http.MethodGet, "/api/db/sync/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SyncRunListResponse](t, rec)
	require.Equal(t, 2, resp.Count)

	// Newest first.
	assert.Equal(t, "failed", resp.Runs[0].Status)
	assert.Equal(t, "upstream unavailable", resp.Runs[0].Error)
	assert.Equal(t, "completed", resp.Runs[1].Status)
	assert.Equal(t, 10, resp.Runs[1].Published)
}

func TestSyncRuns_LimitApplied(t *testing.T) {
	s := newTestServer(t)

	ctx := context.Background()
	for range 3 {
		require.NoError(t, s.deps.Market.RecordSyncRun(ctx, storage.SyncRun{
			StartedAt: "2024-01-01T00:00:00Z", Status: "completed",
		}))
	}

	rec := doRequest(t, s, http.MethodGet, "/api/db/sync/runs?limit=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[SyncRunListResponse](t, rec).Count)
}

func TestSyncRuns_EmptyStore(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/db/sync/runs", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)
}

func TestSyncRuns_InvalidLimit(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/db/sync/runs?limit=zero", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	envelope := decodeBody[ErrorResponse](t, rec)
	require.Len(t, envelope.Details, 1)
	assert.Equal(t, "limit", envelope.Details[0].Field)
}
