package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Analyze_ReturnStatistics(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	// Stock returns are exactly twice the index returns, so beta is 2 and
	// correlation is 1.
	source := &fakeSource{
		quotes: quotesMap("1301", 100, 120, 96),
		topix:  indexBars(100, 110, 99),
	}

	result, err := engine.Analyze(ctx, source, LabParams{Code: "1301"})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01", result.From)
	assert.Equal(t, "2024-01-03", result.To)
	assert.Equal(t, 2, result.Observations)
	assert.InDelta(t, 0, result.MeanDailyReturn, 1e-9)
	assert.InDelta(t, 0.2, result.Volatility, 1e-9)
	assert.InDelta(t, 0, result.AnnualizedReturn, 1e-9)

	require.NotNil(t, result.SharpeRatio)
	assert.InDelta(t, 0, *result.SharpeRatio, 1e-9)

	assert.Equal(t, 2, result.TrackedSessions)
	require.NotNil(t, result.Beta)
	assert.InDelta(t, 2.0, *result.Beta, 1e-9)
	require.NotNil(t, result.Correlation)
	assert.InDelta(t, 1.0, *result.Correlation, 1e-9)
}

func TestEngine_Analyze_WithoutIndexData(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	source := &fakeSource{quotes: quotesMap("1301", 100, 105, 110, 108)}

	result, err := engine.Analyze(ctx, source, LabParams{Code: "1301"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Observations)
	assert.Equal(t, 0, result.TrackedSessions)
	assert.Nil(t, result.Beta, "no index bars means no regression")
	assert.Nil(t, result.Correlation)
	assert.NotNil(t, result.SharpeRatio)
}

func TestEngine_Analyze_PartialIndexOverlap(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	source := &fakeSource{quotes: quotesMap("1301", 100, 110, 121, 133)}

	// Index data exists only for the trailing two sessions, so a single
	// consecutive overlapping pair remains.
	source.topix = indexBars(100, 101, 102, 103)[2:]

	result, err := engine.Analyze(ctx, source, LabParams{Code: "1301"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TrackedSessions, "only consecutive overlapping sessions count")
	assert.Nil(t, result.Beta, "one overlapping pair is not enough to regress")
}

func TestEngine_Analyze_InsufficientData(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	source := &fakeSource{quotes: quotesMap("1301", 100, 105)}

	_, err := engine.Analyze(ctx, source, LabParams{Code: "1301"})
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = engine.Analyze(ctx, source, LabParams{Code: "9999"})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestEngine_Analyze_WindowBounds(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	source := &fakeSource{quotes: quotesMap("1301", 100, 105, 110, 120, 125)}

	result, err := engine.Analyze(ctx, source, LabParams{
		Code: "1301",
		From: "2024-01-02",
		To:   "2024-01-04",
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-02", result.From)
	assert.Equal(t, "2024-01-04", result.To)
	assert.Equal(t, 2, result.Observations)
}
