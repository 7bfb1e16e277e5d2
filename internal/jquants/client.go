package jquants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quantlab-io/quantlab/internal/codes"
	"github.com/quantlab-io/quantlab/internal/config"
)

const (
	// defaultBaseURL is the production endpoint of the upstream API.
	defaultBaseURL = "https://api.jquants.com/v1"

	// defaultTimeout bounds a single upstream HTTP exchange.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of an upstream response is read. A full
	// market day of quotes stays well under this.
	maxResponseBytes = 50 << 20
)

// Sentinel errors for upstream calls.
var (
	// ErrMissingAPIKey is returned when a data fetch is attempted without
	// upstream credentials configured.
	ErrMissingAPIKey = errors.New("upstream API key is not configured")

	// ErrUpstream is returned when the upstream API rejects or fails a
	// request. Jobs failing on it carry the upstream cause in their
	// terminal error message.
	ErrUpstream = errors.New("upstream request failed")

	// ErrEmptyDate is returned when a by-date quote fetch is attempted
	// without a date.
	ErrEmptyDate = errors.New("quote date must not be empty")

	// ErrInvalidBaseURL is returned when the configured base URL is empty.
	ErrInvalidBaseURL = errors.New("upstream base URL must not be empty")

	// ErrInvalidTimeout is returned when the configured timeout is not positive.
	ErrInvalidTimeout = errors.New("upstream timeout must be positive")
)

type (
	// Config holds the upstream client settings, loaded from the environment.
	Config struct {
		// BaseURL is the upstream API root (API_BASE_URL).
		BaseURL string

		// Timeout bounds each HTTP exchange (API_TIMEOUT).
		Timeout time.Duration

		// APIKey is the bearer token for the upstream API (JQUANTS_API_KEY).
		// May be empty; data fetches then fail with ErrMissingAPIKey.
		APIKey string

		// Plan is the raw subscription plan name (JQUANTS_PLAN). Unknown
		// names degrade to the free tier.
		Plan string
	}

	// RetryPolicy controls how rate-limited and transient upstream failures
	// are retried. The policy is caller-provided: jobs that prefer to fail
	// fast pass a single-attempt policy.
	RetryPolicy struct {
		// MaxAttempts is the total number of tries, including the first.
		MaxAttempts int

		// Backoff is the delay before the first retry; it doubles per retry.
		Backoff time.Duration
	}

	// Client is the rate-limited upstream API client. All fetches pass
	// through the FIFO limiter and the retry policy.
	Client struct {
		baseURL string
		apiKey  string
		http    *http.Client
		limiter *Limiter
		retry   RetryPolicy
		logger  *slog.Logger
	}

	// Option configures optional Client dependencies.
	Option func(*Client)
)

// LoadConfig reads the upstream client configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		BaseURL: config.GetEnvStr("API_BASE_URL", defaultBaseURL),
		Timeout: config.GetEnvDuration("API_TIMEOUT", defaultTimeout),
		APIKey:  config.GetEnvStr("JQUANTS_API_KEY", ""),
		Plan:    config.GetEnvStr("JQUANTS_PLAN", string(PlanFree)),
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrInvalidBaseURL
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTimeout, c.Timeout)
	}

	return nil
}

// DefaultRetryPolicy is the service default: three attempts with exponential
// backoff starting at 250ms, applied to 429 and 5xx responses only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 250 * time.Millisecond}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithLimiter injects a limiter, replacing the plan-derived one.
func WithLimiter(limiter *Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithHTTPClient injects the HTTP client used for upstream exchanges.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// NewClient creates an upstream client for the configured plan. An unknown
// plan name is logged and degraded to the free tier.
func NewClient(cfg *Config, logger *slog.Logger, opts ...Option) *Client {
	plan, known := ParsePlan(cfg.Plan)
	if !known {
		logger.Warn("unknown subscription plan, degrading to free tier",
			slog.String("plan", cfg.Plan),
		)
	}

	client := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewLimiter(plan),
		retry:   DefaultRetryPolicy(),
		logger:  logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Limiter exposes the client's limiter so composed fetchers can share pacing.
func (c *Client) Limiter() *Limiter {
	return c.limiter
}

// DailyQuotes fetches the daily OHLCV rows for one stock over a date range.
// The code is expanded to the five-character upstream form here; rows come
// back with the upstream's raw field names and types for the quote-row
// builder to interpret. Dates are YYYY-MM-DD; either bound may be empty.
func (c *Client) DailyQuotes(ctx context.Context, code, from, to string) ([]map[string]any, error) {
	expanded, err := codes.Expand(code)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("code", expanded)
	setRangeParams(params, from, to)

	return c.fetchPaginated(ctx, "/prices/daily_quotes", "daily_quotes", params)
}

// DailyQuotesByDate fetches the daily OHLCV rows for every listed stock on
// one trading day. The upstream serves this form without a code filter,
// which makes it the tool for whole-market catch-up syncs. The date is
// YYYY-MM-DD and must not be empty.
func (c *Client) DailyQuotesByDate(ctx context.Context, date string) ([]map[string]any, error) {
	if strings.TrimSpace(date) == "" {
		return nil, ErrEmptyDate
	}

	params := url.Values{}
	params.Set("date", date)

	return c.fetchPaginated(ctx, "/prices/daily_quotes", "daily_quotes", params)
}

// Topix fetches TOPIX index OHLC rows over a date range.
func (c *Client) Topix(ctx context.Context, from, to string) ([]map[string]any, error) {
	params := url.Values{}
	setRangeParams(params, from, to)

	return c.fetchPaginated(ctx, "/indices/topix", "topix", params)
}

// fetchPaginated follows the upstream pagination_key protocol until the
// last page, concatenating the rows under dataKey.
func (c *Client) fetchPaginated(
	ctx context.Context,
	path, dataKey string,
	params url.Values,
) ([]map[string]any, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var rows []map[string]any

	for {
		page, next, err := c.fetchPage(ctx, path, dataKey, params)
		if err != nil {
			return nil, err
		}

		rows = append(rows, page...)

		if next == "" {
			return rows, nil
		}

		params.Set("pagination_key", next)
	}
}

// fetchPage performs one rate-limited exchange with retries per the policy.
// Every attempt, including retries, re-acquires the limiter so retry storms
// cannot exceed the plan budget.
func (c *Client) fetchPage(
	ctx context.Context,
	path, dataKey string,
	params url.Values,
) ([]map[string]any, string, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.retry.Backoff<<(attempt-1)); err != nil {
				return nil, "", err
			}

			c.logger.Debug("retrying upstream request",
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
			)
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, "", err
		}

		body, retriable, err := c.doRequest(ctx, path, params)
		if err == nil {
			return parsePage(body, dataKey)
		}

		lastErr = err
		if !retriable {
			return nil, "", err
		}
	}

	return nil, "", fmt.Errorf("retries exhausted after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// doRequest performs a single GET against the upstream API. The second return
// reports whether the failure is retriable (429 or 5xx or transport error).
func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, bool, error) {
	requestURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: rate limited (429)", ErrUpstream)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
}

// parsePage decodes an upstream envelope {<dataKey>: [...], pagination_key?}.
func parsePage(body []byte, dataKey string) ([]map[string]any, string, error) {
	var envelope map[string]json.RawMessage

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}

	var rows []map[string]any

	if raw, ok := envelope[dataKey]; ok {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, "", fmt.Errorf("%w: malformed %s payload: %v", ErrUpstream, dataKey, err)
		}
	}

	var next string

	if raw, ok := envelope["pagination_key"]; ok {
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, "", fmt.Errorf("%w: malformed pagination key: %v", ErrUpstream, err)
		}
	}

	return rows, next, nil
}

// setRangeParams adds the optional from/to date bounds.
func setRangeParams(params url.Values, from, to string) {
	if from != "" {
		params.Set("from", from)
	}

	if to != "" {
		params.Set("to", to)
	}
}

// sleepContext sleeps for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
