package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	defaultScreenLimit = 50
	screenConcurrency  = 8
)

type (
	// ScreenParams configures a filter pass over stocks. Zero-valued filters
	// are inactive; MinReturn applies only when Lookback is positive.
	ScreenParams struct {
		Dataset   string   `json:"dataset,omitempty"`
		Codes     []string `json:"codes,omitempty"`
		MinClose  float64  `json:"minClose,omitempty"`
		MaxClose  float64  `json:"maxClose,omitempty"`
		MinVolume int64    `json:"minVolume,omitempty"`
		Lookback  int      `json:"lookback,omitempty"`
		MinReturn float64  `json:"minReturn,omitempty"`
		Limit     int      `json:"limit,omitempty"`
	}

	// ScreenMatch is one stock that passed every active filter, valued at
	// its latest session.
	ScreenMatch struct {
		Code      string   `json:"code"`
		TradeDate string   `json:"tradeDate"`
		Close     float64  `json:"close"`
		Volume    int64    `json:"volume"`
		Return    *float64 `json:"return"`
	}

	// ScreenResult lists matches sorted by lookback return (or code when no
	// lookback is set), capped at Limit. Matched counts before the cap.
	ScreenResult struct {
		Dataset string        `json:"dataset,omitempty"`
		Scanned int           `json:"scanned"`
		Matched int           `json:"matched"`
		Matches []ScreenMatch `json:"matches"`
	}
)

// Validate reports whether the parameters would be accepted by Screen,
// without mutating the receiver.
func (p ScreenParams) Validate() error {
	q := p

	return q.normalize()
}

func (p *ScreenParams) normalize() error {
	if p.Lookback < 0 {
		return fmt.Errorf("%w: lookback %d", ErrInvalidFilter, p.Lookback)
	}

	if p.MinClose > 0 && p.MaxClose > 0 && p.MinClose > p.MaxClose {
		return fmt.Errorf("%w: minClose %g above maxClose %g", ErrInvalidFilter, p.MinClose, p.MaxClose)
	}

	if p.Limit <= 0 {
		p.Limit = defaultScreenLimit
	}

	return nil
}

// Screen evaluates the filters against every candidate stock, scanning
// concurrently. progress is called as stocks finish.
func (e *Engine) Screen(ctx context.Context, source QuoteSource, p ScreenParams,
	progress func(done, total int),
) (*ScreenResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	codes := p.Codes

	if len(codes) == 0 {
		var err error

		codes, err = source.StockCodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stocks: %w", err)
		}
	}

	var (
		mu      sync.Mutex
		done    int
		matches []ScreenMatch
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(screenConcurrency)

	for _, code := range codes {
		g.Go(func() error {
			match, ok, err := e.screenOne(gctx, source, p, code)

			mu.Lock()
			defer mu.Unlock()

			done++

			if err == nil && ok {
				matches = append(matches, match)
			}

			if progress != nil {
				progress(done, len(codes))
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if p.Lookback > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return *matches[i].Return > *matches[j].Return
		})
	} else {
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Code < matches[j].Code })
	}

	result := &ScreenResult{
		Dataset: p.Dataset,
		Scanned: len(codes),
		Matched: len(matches),
	}

	if len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}

	if matches == nil {
		matches = []ScreenMatch{}
	}

	result.Matches = matches

	e.logger.Debug("Screen finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("matched", result.Matched))

	return result, nil
}

// screenOne evaluates one stock. ok reports whether it passed every filter.
func (e *Engine) screenOne(ctx context.Context, source QuoteSource, p ScreenParams,
	code string,
) (ScreenMatch, bool, error) {
	quotes, err := source.DailyQuotes(ctx, code, "", "")
	if err != nil {
		return ScreenMatch{}, false, fmt.Errorf("failed to read %s: %w", code, err)
	}

	if len(quotes) == 0 {
		return ScreenMatch{}, false, nil
	}

	last := quotes[len(quotes)-1]

	if p.MinClose > 0 && last.Close < p.MinClose {
		return ScreenMatch{}, false, nil
	}

	if p.MaxClose > 0 && last.Close > p.MaxClose {
		return ScreenMatch{}, false, nil
	}

	if p.MinVolume > 0 && last.Volume < p.MinVolume {
		return ScreenMatch{}, false, nil
	}

	match := ScreenMatch{
		Code:      last.Code,
		TradeDate: last.TradeDate,
		Close:     last.Close,
		Volume:    last.Volume,
	}

	if p.Lookback > 0 {
		// Stocks without enough history cannot prove the momentum filter.
		if len(quotes) < p.Lookback+1 {
			return ScreenMatch{}, false, nil
		}

		base := quotes[len(quotes)-1-p.Lookback].Close
		if base <= 0 {
			return ScreenMatch{}, false, nil
		}

		ret := last.Close/base - 1
		if ret < p.MinReturn {
			return ScreenMatch{}, false, nil
		}

		match.Return = &ret
	}

	return match, true, nil
}
