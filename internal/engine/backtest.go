package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Strategy names accepted by Backtest.
const (
	StrategyBuyAndHold = "buy_and_hold"
	StrategySMACross   = "sma_cross"
)

// Default moving-average windows for sma_cross.
const (
	defaultShortWindow = 5
	defaultLongWindow  = 25
)

type (
	// BacktestParams configures one simulation run. Zero values fall back to
	// defaults: buy_and_hold, 5/25 windows, one million yen.
	BacktestParams struct {
		Dataset        string  `json:"dataset,omitempty"`
		Code           string  `json:"code"`
		From           string  `json:"from,omitempty"`
		To             string  `json:"to,omitempty"`
		Strategy       string  `json:"strategy,omitempty"`
		ShortWindow    int     `json:"shortWindow,omitempty"`
		LongWindow     int     `json:"longWindow,omitempty"`
		InitialCapital float64 `json:"initialCapital,omitempty"`
	}

	// SimTrade is one simulated fill.
	SimTrade struct {
		Date   string  `json:"date"`
		Side   string  `json:"side"`
		Price  float64 `json:"price"`
		Shares int64   `json:"shares"`
	}

	// EquityPoint is the portfolio value at the close of one session.
	EquityPoint struct {
		Date   string  `json:"date"`
		Equity float64 `json:"equity"`
	}

	// BacktestResult is the full outcome of one simulation. TotalReturn,
	// MaxDrawdown, and WinRate are fractions, not percentages.
	BacktestResult struct {
		Code           string        `json:"code"`
		Strategy       string        `json:"strategy"`
		Dataset        string        `json:"dataset,omitempty"`
		From           string        `json:"from"`
		To             string        `json:"to"`
		Bars           int           `json:"bars"`
		InitialCapital float64       `json:"initialCapital"`
		FinalEquity    float64       `json:"finalEquity"`
		TotalReturn    float64       `json:"totalReturn"`
		MaxDrawdown    float64       `json:"maxDrawdown"`
		WinRate        *float64      `json:"winRate"`
		Trades         []SimTrade    `json:"trades"`
		EquityCurve    []EquityPoint `json:"equityCurve"`
	}
)

// Validate reports whether the parameters would be accepted by Backtest,
// without mutating the receiver. Submission endpoints use it to reject bad
// requests before a job is created.
func (p BacktestParams) Validate() error {
	q := p

	return q.normalize()
}

// normalize fills defaults and validates the parameter combination.
func (p *BacktestParams) normalize() error {
	if p.Strategy == "" {
		p.Strategy = StrategyBuyAndHold
	}

	if p.Strategy != StrategyBuyAndHold && p.Strategy != StrategySMACross {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Strategy)
	}

	if p.InitialCapital <= 0 {
		p.InitialCapital = defaultInitialCapital
	}

	if p.Strategy == StrategySMACross {
		if p.ShortWindow == 0 {
			p.ShortWindow = defaultShortWindow
		}

		if p.LongWindow == 0 {
			p.LongWindow = defaultLongWindow
		}

		if p.ShortWindow <= 0 || p.LongWindow <= 0 || p.ShortWindow >= p.LongWindow {
			return fmt.Errorf("%w: short %d, long %d", ErrInvalidWindows, p.ShortWindow, p.LongWindow)
		}
	}

	return nil
}

// Backtest simulates a long-only strategy over one stock's history and
// returns the equity curve with summary statistics. progress, when non-nil,
// is called with (done, total) bars at coarse checkpoints.
func (e *Engine) Backtest(ctx context.Context, source QuoteSource, p BacktestParams,
	progress func(done, total int),
) (*BacktestResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	quotes, err := source.DailyQuotes(ctx, p.Code, p.From, p.To)
	if err != nil {
		return nil, err
	}

	minBars := 2
	if p.Strategy == StrategySMACross {
		minBars = p.LongWindow + 1
	}

	if len(quotes) < minBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", ErrInsufficientData, p.Code, len(quotes), minBars)
	}

	closes := make([]float64, len(quotes))
	dates := make([]string, len(quotes))

	for i, q := range quotes {
		closes[i] = q.Close
		dates[i] = q.TradeDate
	}

	sim := newSimulation(p.InitialCapital, dates, closes)

	switch p.Strategy {
	case StrategyBuyAndHold:
		sim.runBuyAndHold(ctx, progress)
	case StrategySMACross:
		sim.runSMACross(ctx, p.ShortWindow, p.LongWindow, progress)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := sim.result()
	result.Code = p.Code
	result.Strategy = p.Strategy
	result.Dataset = p.Dataset
	result.From = dates[0]
	result.To = dates[len(dates)-1]

	e.logger.Debug("Backtest finished",
		slog.String("code", p.Code),
		slog.String("strategy", p.Strategy),
		slog.Int("bars", result.Bars),
		slog.Float64("total_return", result.TotalReturn))

	return result, nil
}

// simulation tracks one long-only pass over a close series.
type simulation struct {
	dates  []string
	closes []float64

	cash   float64
	shares int64

	initial    float64
	entryPrice float64
	roundTrips int
	wins       int

	trades []SimTrade
	equity []float64
}

func newSimulation(capital float64, dates []string, closes []float64) *simulation {
	return &simulation{
		dates:   dates,
		closes:  closes,
		cash:    capital,
		initial: capital,
		equity:  make([]float64, 0, len(closes)),
	}
}

// buy moves all available cash into whole shares at the bar's close.
func (s *simulation) buy(i int) {
	price := s.closes[i]

	shares := int64(s.cash / price)
	if shares == 0 {
		return
	}

	s.cash -= float64(shares) * price
	s.shares += shares
	s.entryPrice = price
	s.trades = append(s.trades, SimTrade{Date: s.dates[i], Side: "buy", Price: price, Shares: shares})
}

// sell liquidates the position at the bar's close.
func (s *simulation) sell(i int) {
	if s.shares == 0 {
		return
	}

	price := s.closes[i]
	s.cash += float64(s.shares) * price
	s.trades = append(s.trades, SimTrade{Date: s.dates[i], Side: "sell", Price: price, Shares: s.shares})
	s.shares = 0
	s.roundTrips++

	if price > s.entryPrice {
		s.wins++
	}
}

// mark records the equity value at the close of bar i.
func (s *simulation) mark(i int) {
	s.equity = append(s.equity, s.cash+float64(s.shares)*s.closes[i])
}

func (s *simulation) runBuyAndHold(ctx context.Context, progress func(done, total int)) {
	total := len(s.closes)
	step := checkpointStep(total)

	s.buy(0)

	for i := range s.closes {
		if ctx.Err() != nil {
			return
		}

		s.mark(i)
		report(progress, i, total, step)
	}
}

func (s *simulation) runSMACross(ctx context.Context, short, long int, progress func(done, total int)) {
	total := len(s.closes)
	step := checkpointStep(total)

	fast := sma(s.closes, short)
	slow := sma(s.closes, long)

	for i := range s.closes {
		if ctx.Err() != nil {
			return
		}

		// Signals need a defined pair on this bar and the previous one, so
		// trading starts one bar after the long window completes.
		if i >= long && !math.IsNaN(fast[i-1]) && !math.IsNaN(slow[i-1]) {
			crossedUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
			crossedDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]

			switch {
			case crossedUp && s.shares == 0:
				s.buy(i)
			case crossedDown && s.shares > 0:
				s.sell(i)
			}
		}

		s.mark(i)
		report(progress, i, total, step)
	}
}

func (s *simulation) result() *BacktestResult {
	final := s.equity[len(s.equity)-1]

	res := &BacktestResult{
		Bars:           len(s.closes),
		InitialCapital: s.initial,
		FinalEquity:    final,
		TotalReturn:    final/s.initial - 1,
		MaxDrawdown:    maxDrawdown(s.equity),
		Trades:         s.trades,
		EquityCurve:    make([]EquityPoint, len(s.equity)),
	}

	if s.trades == nil {
		res.Trades = []SimTrade{}
	}

	for i, v := range s.equity {
		res.EquityCurve[i] = EquityPoint{Date: s.dates[i], Equity: v}
	}

	if s.roundTrips > 0 {
		rate := float64(s.wins) / float64(s.roundTrips)
		res.WinRate = &rate
	}

	return res
}

// checkpointStep spaces progress reports to roughly ten per run.
func checkpointStep(total int) int {
	step := total / 10
	if step < 1 {
		step = 1
	}

	return step
}

func report(progress func(done, total int), i, total, step int) {
	if progress == nil {
		return
	}

	if (i+1)%step == 0 || i+1 == total {
		progress(i+1, total)
	}
}
