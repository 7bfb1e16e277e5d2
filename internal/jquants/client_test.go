package jquants

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(t *testing.T, serverURL, apiKey string, opts ...Option) *Client {
	t.Helper()

	cfg := &Config{
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
		APIKey:  apiKey,
		Plan:    "premium",
	}
	require.NoError(t, cfg.Validate())

	base := []Option{WithLimiter(NewLimiterWithInterval(0))}

	return NewClient(cfg, testLogger(), append(base, opts...)...)
}

func TestClient_DailyQuotes_PaginatesAndExpandsCode(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		assert.Equal(t, "/prices/daily_quotes", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "72030", r.URL.Query().Get("code"), "code must be expanded on the wire")
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("to"))

		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("pagination_key") == "" {
			fmt.Fprint(w, `{"daily_quotes":[{"Code":"72030","Date":"2024-01-04"},{"Code":"72030","Date":"2024-01-05"}],"pagination_key":"page2"}`)

			return
		}

		assert.Equal(t, "page2", r.URL.Query().Get("pagination_key"))
		fmt.Fprint(w, `{"daily_quotes":[{"Code":"72030","Date":"2024-01-09"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key")

	rows, err := client.DailyQuotes(context.Background(), "7203", "2024-01-01", "2024-01-31")

	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, "2024-01-04", rows[0]["Date"])
}

func TestClient_DailyQuotes_RetriesRateLimited(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		fmt.Fprint(w, `{"daily_quotes":[{"Code":"72030"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}))

	rows, err := client.DailyQuotes(context.Background(), "7203", "", "")

	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(2), requests.Load())
}

func TestClient_DailyQuotes_ClientErrorFailsFast(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}))

	_, err := client.DailyQuotes(context.Background(), "7203", "", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(1), requests.Load(), "4xx responses other than 429 must not retry")
}

func TestClient_DailyQuotes_ExhaustsRetriesOnServerErrors(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}))

	_, err := client.DailyQuotes(context.Background(), "7203", "", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(3), requests.Load())
}

func TestClient_DailyQuotes_MissingAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request must be sent without credentials")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")

	_, err := client.DailyQuotes(context.Background(), "7203", "", "")

	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClient_DailyQuotesByDate_SendsDateParam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/daily_quotes", r.URL.Path)
		assert.Equal(t, "2024-01-05", r.URL.Query().Get("date"))
		assert.Empty(t, r.URL.Query().Get("code"), "the whole-market form carries no code filter")

		fmt.Fprint(w, `{"daily_quotes":[{"Code":"72030","Date":"2024-01-05"},{"Code":"99840","Date":"2024-01-05"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key")

	rows, err := client.DailyQuotesByDate(context.Background(), "2024-01-05")

	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestClient_DailyQuotesByDate_EmptyDate(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", "test-key")

	_, err := client.DailyQuotesByDate(context.Background(), "  ")

	assert.ErrorIs(t, err, ErrEmptyDate)
}

func TestClient_Topix_FetchesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indices/topix", r.URL.Path)
		fmt.Fprint(w, `{"topix":[{"Date":"2024-01-04","Open":2360.1,"High":2370.5,"Low":2350.0,"Close":2366.3}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "test-key")

	rows, err := client.Topix(context.Background(), "", "")

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-04", rows[0]["Date"])
	assert.InDelta(t, 2366.3, rows[0]["Close"], 0.0001)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "valid",
			config: Config{BaseURL: "https://api.example.com", Timeout: time.Second},
		},
		{
			name:    "empty base URL",
			config:  Config{Timeout: time.Second},
			wantErr: ErrInvalidBaseURL,
		},
		{
			name:    "non-positive timeout",
			config:  Config{BaseURL: "https://api.example.com"},
			wantErr: ErrInvalidTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			assert.NoError(t, err)
		})
	}
}
