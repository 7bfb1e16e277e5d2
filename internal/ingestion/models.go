// Package ingestion provides the staged pipeline used by sync and
// dataset-build jobs: fetch, normalize, validate, publish, index.
//
// The pipeline never interprets row semantics. Rows are opaque field maps;
// only field presence and the configured dedup keys matter until the publisher
// maps rows onto the storage schema. The quote-row builder in this package is
// that mapping for daily market quotes.
package ingestion

import (
	"strings"
	"time"
)

type (
	// Row is one raw record moving through the pipeline. Values are whatever
	// the fetch stage produced, typically JSON-decoded scalars.
	Row map[string]any

	// Result summarizes one pipeline run. Counters cover every stage so job
	// progress and logs can report exactly what was kept and what was
	// dropped.
	Result struct {
		// Fetched is the row count produced by the fetch stage.
		Fetched int

		// Validated is the row count that survived required-field and dedup
		// filtering.
		Validated int

		// Published is the row count the publish stage reported as stored.
		Published int

		// SkippedMissing counts rows dropped for a missing required field.
		SkippedMissing int

		// SkippedDuplicate counts rows dropped as dedup-key duplicates.
		SkippedDuplicate int

		// SkippedBuild counts rows the publisher's row builder rejected.
		SkippedBuild int

		// Indexed reports whether the optional index stage ran.
		Indexed bool
	}

	// Quote is the storage form of one daily OHLCV bar. The quote-row builder
	// produces these from raw upstream rows; the market store and the
	// dataset writer persist them, and the history endpoints serve them.
	Quote struct {
		// Code is the canonical four-character stock code.
		Code string `json:"code"`

		// TradeDate is the session date, YYYY-MM-DD.
		TradeDate string `json:"tradeDate"`

		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`

		// Volume is the traded share count.
		Volume int64 `json:"volume"`

		// AdjustmentFactor is the corporate-action adjustment applied on this
		// date, nil when upstream supplied none.
		AdjustmentFactor *float64 `json:"adjustmentFactor,omitempty"`

		// CreatedAt is the ingestion timestamp, ISO-8601.
		CreatedAt string `json:"createdAt,omitempty"`
	}

	// TopixBar is the storage form of one TOPIX index session.
	TopixBar struct {
		// TradeDate is the session date, YYYY-MM-DD.
		TradeDate string `json:"tradeDate"`

		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	}
)

// IsMissing reports whether a field value counts as absent: nil, or a string
// whose trimmed form is empty. Numeric zero is present.
func IsMissing(value any) bool {
	if value == nil {
		return true
	}

	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	return false
}

// nowISO returns the current UTC time in ISO-8601, the created-at default.
func nowISO(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339)
}
