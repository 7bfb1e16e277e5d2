package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

const leaderboardSize = 10

type (
	// OptimizeParams configures a grid search over sma_cross windows. Empty
	// window lists fall back to a small default grid.
	OptimizeParams struct {
		Dataset        string  `json:"dataset,omitempty"`
		Code           string  `json:"code"`
		From           string  `json:"from,omitempty"`
		To             string  `json:"to,omitempty"`
		ShortWindows   []int   `json:"shortWindows,omitempty"`
		LongWindows    []int   `json:"longWindows,omitempty"`
		InitialCapital float64 `json:"initialCapital,omitempty"`
	}

	// Candidate is one evaluated window pair.
	Candidate struct {
		ShortWindow int      `json:"shortWindow"`
		LongWindow  int      `json:"longWindow"`
		TotalReturn float64  `json:"totalReturn"`
		MaxDrawdown float64  `json:"maxDrawdown"`
		WinRate     *float64 `json:"winRate"`
		Trades      int      `json:"trades"`
	}

	// OptimizeResult ranks the evaluated grid. Leaderboard is sorted by
	// total return, best first, capped at ten entries; Best duplicates the
	// top entry for direct access.
	OptimizeResult struct {
		Code         string      `json:"code"`
		Dataset      string      `json:"dataset,omitempty"`
		From         string      `json:"from"`
		To           string      `json:"to"`
		Bars         int         `json:"bars"`
		Combinations int         `json:"combinations"`
		Skipped      int         `json:"skipped"`
		Best         Candidate   `json:"best"`
		Leaderboard  []Candidate `json:"leaderboard"`
	}
)

// Validate reports whether the parameters would be accepted by Optimize,
// without mutating the receiver.
func (p OptimizeParams) Validate() error {
	q := p

	return q.normalize()
}

func (p *OptimizeParams) normalize() error {
	if len(p.ShortWindows) == 0 {
		p.ShortWindows = []int{5, 10, 20}
	}

	if len(p.LongWindows) == 0 {
		p.LongWindows = []int{25, 50, 75}
	}

	for _, w := range append(append([]int{}, p.ShortWindows...), p.LongWindows...) {
		if w <= 0 {
			return fmt.Errorf("%w: window %d", ErrInvalidWindows, w)
		}
	}

	if p.InitialCapital <= 0 {
		p.InitialCapital = defaultInitialCapital
	}

	return nil
}

// Optimize grid-searches sma_cross window pairs over one stock's history.
// The quote series is fetched once; every pair runs against the in-memory
// series. progress is called once per evaluated pair.
func (e *Engine) Optimize(ctx context.Context, source QuoteSource, p OptimizeParams,
	progress func(done, total int),
) (*OptimizeResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	type pair struct{ short, long int }

	pairs := make([]pair, 0, len(p.ShortWindows)*len(p.LongWindows))

	for _, s := range p.ShortWindows {
		for _, l := range p.LongWindows {
			if s < l {
				pairs = append(pairs, pair{short: s, long: l})
			}
		}
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pair has short < long", ErrInvalidWindows)
	}

	quotes, err := source.DailyQuotes(ctx, p.Code, p.From, p.To)
	if err != nil {
		return nil, err
	}

	if len(quotes) < 2 {
		return nil, fmt.Errorf("%w: %s has %d bars", ErrInsufficientData, p.Code, len(quotes))
	}

	closes := make([]float64, len(quotes))
	dates := make([]string, len(quotes))

	for i, q := range quotes {
		closes[i] = q.Close
		dates[i] = q.TradeDate
	}

	result := &OptimizeResult{
		Code:    p.Code,
		Dataset: p.Dataset,
		From:    dates[0],
		To:      dates[len(dates)-1],
		Bars:    len(quotes),
	}

	candidates := make([]Candidate, 0, len(pairs))

	for i, pr := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Pairs whose long window exceeds the series never trade; skip them
		// rather than failing the whole grid.
		if len(quotes) < pr.long+1 {
			result.Skipped++

			if progress != nil {
				progress(i+1, len(pairs))
			}

			continue
		}

		sim := newSimulation(p.InitialCapital, dates, closes)
		sim.runSMACross(ctx, pr.short, pr.long, nil)

		br := sim.result()
		candidates = append(candidates, Candidate{
			ShortWindow: pr.short,
			LongWindow:  pr.long,
			TotalReturn: br.TotalReturn,
			MaxDrawdown: br.MaxDrawdown,
			WinRate:     br.WinRate,
			Trades:      len(br.Trades),
		})

		if progress != nil {
			progress(i+1, len(pairs))
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s has %d bars, shortest grid needs more", ErrInsufficientData, p.Code, len(quotes))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].TotalReturn != candidates[j].TotalReturn {
			return candidates[i].TotalReturn > candidates[j].TotalReturn
		}

		return candidates[i].MaxDrawdown < candidates[j].MaxDrawdown
	})

	result.Combinations = len(candidates)
	result.Best = candidates[0]

	if len(candidates) > leaderboardSize {
		candidates = candidates[:leaderboardSize]
	}

	result.Leaderboard = candidates

	e.logger.Debug("Optimization finished",
		slog.String("code", p.Code),
		slog.Int("combinations", result.Combinations),
		slog.Int("skipped", result.Skipped),
		slog.Float64("best_return", result.Best.TotalReturn))

	return result, nil
}
