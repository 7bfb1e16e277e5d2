// Quote-row construction: raw upstream rows to the storage schema.
package ingestion

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/quantlab-io/quantlab/internal/codes"
)

// Sentinel errors for quote-row construction. Builder errors drop the row and
// bump the skip counter; they never abort the batch.
var (
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("required field missing")

	// ErrNotNumeric is returned when a value cannot be coerced to a finite
	// number. Booleans and non-parseable strings are rejected here.
	ErrNotNumeric = errors.New("value is not numeric")
)

// Upstream field names, adjusted variant first. OHLCV selection falls back to
// the unadjusted field when the adjusted one is absent.
var ohlcvFields = []struct {
	target   string
	adjusted string
	plain    string
}{
	{"open", "AdjustmentOpen", "Open"},
	{"high", "AdjustmentHigh", "High"},
	{"low", "AdjustmentLow", "Low"},
	{"close", "AdjustmentClose", "Close"},
	{"volume", "AdjustmentVolume", "Volume"},
}

// QuoteBuilder maps raw upstream quote rows onto storage Quotes.
//
// Policy:
//   - canonical code and trade date are required; rows without them drop
//   - OHLCV uses the adjusted field, falling back to the plain field; a
//     missing or non-finite component drops the row
//   - volume coerces to integer through float64
//   - adjustment factor is optional; an empty string becomes nil
//   - created-at defaults to the current ISO timestamp
type QuoteBuilder struct {
	now func() time.Time
}

// NewQuoteBuilder creates a builder stamping created-at from the wall clock.
func NewQuoteBuilder() *QuoteBuilder {
	return &QuoteBuilder{now: time.Now}
}

// NewQuoteBuilderAt creates a builder with an injected clock. Used by tests
// and by backfills that want a fixed ingestion timestamp.
func NewQuoteBuilderAt(now func() time.Time) *QuoteBuilder {
	return &QuoteBuilder{now: now}
}

// Build converts a batch of raw rows, returning the quotes that mapped
// cleanly and the count of rows dropped by builder policy.
func (b *QuoteBuilder) Build(rows []Row) ([]Quote, int) {
	quotes := make([]Quote, 0, len(rows))
	skipped := 0

	for _, row := range rows {
		quote, err := b.buildOne(row)
		if err != nil {
			skipped++

			continue
		}

		quotes = append(quotes, quote)
	}

	return quotes, skipped
}

// buildOne maps a single raw row. Any policy violation returns an error so
// Build can count the drop.
func (b *QuoteBuilder) buildOne(row Row) (Quote, error) {
	rawCode, ok := row["Code"].(string)
	if !ok || strings.TrimSpace(rawCode) == "" {
		return Quote{}, fmt.Errorf("%w: Code", ErrMissingField)
	}

	code, err := codes.Canonicalize(rawCode)
	if err != nil {
		return Quote{}, fmt.Errorf("canonicalizing code: %w", err)
	}

	date, ok := row["Date"].(string)
	if !ok || strings.TrimSpace(date) == "" {
		return Quote{}, fmt.Errorf("%w: Date", ErrMissingField)
	}

	values := make(map[string]float64, len(ohlcvFields))

	for _, field := range ohlcvFields {
		raw := row[field.adjusted]
		if IsMissing(raw) {
			raw = row[field.plain]
		}

		value, err := toFloat(raw)
		if err != nil {
			return Quote{}, fmt.Errorf("%s: %w", field.target, err)
		}

		values[field.target] = value
	}

	quote := Quote{
		Code:      code,
		TradeDate: strings.TrimSpace(date),
		Open:      values["open"],
		High:      values["high"],
		Low:       values["low"],
		Close:     values["close"],
		Volume:    int64(values["volume"]),
		CreatedAt: b.createdAt(row),
	}

	if factor, ok := toOptionalFloat(row["AdjustmentFactor"]); ok {
		quote.AdjustmentFactor = &factor
	}

	return quote, nil
}

// createdAt honors a caller-supplied CreatedAt string, defaulting to now.
func (b *QuoteBuilder) createdAt(row Row) string {
	if supplied, ok := row["CreatedAt"].(string); ok && strings.TrimSpace(supplied) != "" {
		return supplied
	}

	return nowISO(b.now)
}

// BuildTopixBars converts raw index rows to TOPIX bars with the same numeric
// policy as quotes: all four prices required and finite, bad rows dropped.
func BuildTopixBars(rows []Row) ([]TopixBar, int) {
	bars := make([]TopixBar, 0, len(rows))
	skipped := 0

	for _, row := range rows {
		date, ok := row["Date"].(string)
		if !ok || strings.TrimSpace(date) == "" {
			skipped++

			continue
		}

		bar := TopixBar{TradeDate: strings.TrimSpace(date)}

		var err error

		if bar.Open, err = toFloat(row["Open"]); err != nil {
			skipped++

			continue
		}

		if bar.High, err = toFloat(row["High"]); err != nil {
			skipped++

			continue
		}

		if bar.Low, err = toFloat(row["Low"]); err != nil {
			skipped++

			continue
		}

		if bar.Close, err = toFloat(row["Close"]); err != nil {
			skipped++

			continue
		}

		bars = append(bars, bar)
	}

	return bars, skipped
}

// toFloat coerces a scalar to a finite float64. Booleans are rejected even
// though they are technically numeric in some source languages; a bool here
// means an upstream schema surprise.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil", ErrNotNumeric)
	case bool:
		return 0, fmt.Errorf("%w: boolean", ErrNotNumeric)
	case float64:
		return checkFinite(v)
	case float32:
		return checkFinite(float64(v))
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("%w: empty string", ErrNotNumeric)
		}

		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v)
		}

		return checkFinite(parsed)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, value)
	}
}

// toOptionalFloat coerces an optional scalar. Absent values, empty strings,
// and unparseable values all report ok=false, which maps to null in storage.
func toOptionalFloat(value any) (float64, bool) {
	if IsMissing(value) {
		return 0, false
	}

	parsed, err := toFloat(value)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

// checkFinite rejects NaN and infinities.
func checkFinite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite", ErrNotNumeric)
	}

	return v, nil
}
