// Package engine implements the quantitative job bodies: backtests,
// parameter optimization, stock screening, and lab analytics.
//
// The engine is pure computation over a QuoteSource. It never opens
// databases or touches the registry; callers resolve the source (live market
// store or a dataset snapshot) and adapt progress callbacks to whatever
// reporting channel the job executor provides.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quantlab-io/quantlab/internal/ingestion"
)

// Default initial capital for simulations, in yen.
const defaultInitialCapital = 1_000_000

var (
	// ErrUnknownStrategy is returned for a strategy name the engine does not
	// implement.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidWindows is returned when moving-average windows are
	// non-positive or the short window is not below the long one.
	ErrInvalidWindows = errors.New("invalid moving-average windows")

	// ErrInsufficientData is returned when a series is too short for the
	// requested computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidFilter is returned for contradictory or malformed screen
	// filters.
	ErrInvalidFilter = errors.New("invalid screen filter")
)

// QuoteSource is the read surface the engine computes over. Both the live
// market store and dataset snapshots satisfy it.
type QuoteSource interface {
	DailyQuotes(ctx context.Context, code, from, to string) ([]ingestion.Quote, error)
	StockCodes(ctx context.Context) ([]string, error)
	Topix(ctx context.Context, from, to string) ([]ingestion.TopixBar, error)
}

// Engine runs quantitative computations. Stateless apart from its logger;
// safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{logger: logger}
}
