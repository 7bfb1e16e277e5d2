package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"

	"github.com/quantlab-io/quantlab/internal/ingestion"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	return NewEngine(testLogger())
}

// fakeSource serves in-memory series keyed by code. Dates compare lexically,
// which is exact for ISO dates.
type fakeSource struct {
	quotes map[string][]ingestion.Quote
	topix  []ingestion.TopixBar
}

func (f *fakeSource) DailyQuotes(_ context.Context, code, from, to string) ([]ingestion.Quote, error) {
	var out []ingestion.Quote

	for _, q := range f.quotes[code] {
		if from != "" && q.TradeDate < from {
			continue
		}

		if to != "" && q.TradeDate > to {
			continue
		}

		out = append(out, q)
	}

	return out, nil
}

func (f *fakeSource) StockCodes(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(f.quotes))

	for code := range f.quotes {
		out = append(out, code)
	}

	sort.Strings(out)

	return out, nil
}

func (f *fakeSource) Topix(_ context.Context, from, to string) ([]ingestion.TopixBar, error) {
	var out []ingestion.TopixBar

	for _, b := range f.topix {
		if from != "" && b.TradeDate < from {
			continue
		}

		if to != "" && b.TradeDate > to {
			continue
		}

		out = append(out, b)
	}

	return out, nil
}

// bars builds a daily series from closes, dated from 2024-01-01 onward.
func bars(code string, closes ...float64) []ingestion.Quote {
	out := make([]ingestion.Quote, len(closes))

	for i, c := range closes {
		out[i] = ingestion.Quote{
			Code:      code,
			TradeDate: testDate(i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}

	return out
}

// quotesMap is a single-stock source payload.
func quotesMap(code string, closes ...float64) map[string][]ingestion.Quote {
	return map[string][]ingestion.Quote{code: bars(code, closes...)}
}

// indexBars builds a TOPIX series on the same date grid as bars.
func indexBars(closes ...float64) []ingestion.TopixBar {
	out := make([]ingestion.TopixBar, len(closes))

	for i, c := range closes {
		out[i] = ingestion.TopixBar{TradeDate: testDate(i), Open: c, High: c, Low: c, Close: c}
	}

	return out
}

func testDate(i int) string {
	return fmt.Sprintf("2024-01-%02d", i+1)
}
