package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/quantlab-io/quantlab/internal/ingestion"
)

const tradingDaysPerYear = 252

type (
	// LabParams configures a return-statistics experiment for one stock.
	LabParams struct {
		Dataset string `json:"dataset,omitempty"`
		Code    string `json:"code"`
		From    string `json:"from,omitempty"`
		To      string `json:"to,omitempty"`
	}

	// LabResult summarizes the return distribution of one stock and, when
	// TOPIX bars overlap the window, its relationship to the index. Pointer
	// fields are nil when the underlying statistic is undefined.
	LabResult struct {
		Code             string   `json:"code"`
		Dataset          string   `json:"dataset,omitempty"`
		From             string   `json:"from"`
		To               string   `json:"to"`
		Observations     int      `json:"observations"`
		MeanDailyReturn  float64  `json:"meanDailyReturn"`
		Volatility       float64  `json:"volatility"`
		AnnualizedReturn float64  `json:"annualizedReturn"`
		SharpeRatio      *float64 `json:"sharpeRatio"`
		Beta             *float64 `json:"beta"`
		Correlation      *float64 `json:"correlation"`
		TrackedSessions  int      `json:"trackedSessions"`
	}
)

// Analyze computes daily-return statistics for one stock and regresses it
// against TOPIX where index data overlaps the window.
func (e *Engine) Analyze(ctx context.Context, source QuoteSource, p LabParams) (*LabResult, error) {
	quotes, err := source.DailyQuotes(ctx, p.Code, p.From, p.To)
	if err != nil {
		return nil, err
	}

	if len(quotes) < 3 {
		return nil, fmt.Errorf("%w: %s has %d bars, need 3", ErrInsufficientData, p.Code, len(quotes))
	}

	closes := make([]float64, len(quotes))
	for i, q := range quotes {
		closes[i] = q.Close
	}

	returns := dailyReturns(closes)
	m := mean(returns)
	sd := stddev(returns, m)

	result := &LabResult{
		Code:             p.Code,
		Dataset:          p.Dataset,
		From:             quotes[0].TradeDate,
		To:               quotes[len(quotes)-1].TradeDate,
		Observations:     len(returns),
		MeanDailyReturn:  m,
		Volatility:       sd,
		AnnualizedReturn: m * tradingDaysPerYear,
	}

	if sd > 0 {
		sharpe := m / sd * math.Sqrt(tradingDaysPerYear)
		result.SharpeRatio = &sharpe
	}

	e.regressAgainstTopix(ctx, source, quotes, result)

	e.logger.Debug("Lab analysis finished",
		slog.String("code", p.Code),
		slog.Int("observations", result.Observations),
		slog.Int("tracked_sessions", result.TrackedSessions))

	return result, nil
}

// regressAgainstTopix fills Beta/Correlation from sessions where both the
// stock and the index traded. Missing or sparse index data leaves the fields
// nil; the experiment itself still succeeds.
func (e *Engine) regressAgainstTopix(ctx context.Context, source QuoteSource,
	quotes []ingestion.Quote, result *LabResult,
) {
	bars, err := source.Topix(ctx, result.From, result.To)
	if err != nil {
		e.logger.Warn("Skipping index regression", slog.String("error", err.Error()))

		return
	}

	index := make(map[string]float64, len(bars))
	for _, b := range bars {
		index[b.TradeDate] = b.Close
	}

	var stockReturns, indexReturns []float64

	for i := 1; i < len(quotes); i++ {
		prev, ok1 := index[quotes[i-1].TradeDate]
		curr, ok2 := index[quotes[i].TradeDate]

		if !ok1 || !ok2 || prev <= 0 || quotes[i-1].Close <= 0 {
			continue
		}

		stockReturns = append(stockReturns, quotes[i].Close/quotes[i-1].Close-1)
		indexReturns = append(indexReturns, curr/prev-1)
	}

	result.TrackedSessions = len(stockReturns)

	if len(stockReturns) < 2 {
		return
	}

	meanStock := mean(stockReturns)
	meanIndex := mean(indexReturns)
	sdStock := stddev(stockReturns, meanStock)
	sdIndex := stddev(indexReturns, meanIndex)
	cov := covariance(stockReturns, indexReturns, meanStock, meanIndex)

	if sdIndex > 0 {
		beta := cov / (sdIndex * sdIndex)
		result.Beta = &beta
	}

	if sdStock > 0 && sdIndex > 0 {
		corr := cov / (sdStock * sdIndex)
		result.Correlation = &corr
	}
}
