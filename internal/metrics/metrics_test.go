package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveJobFinished_IncrementsCounter(t *testing.T) {
	m := New()

	m.ObserveJobStarted("backtest")
	m.ObserveJobFinished("backtest", "completed", 150*time.Millisecond)
	m.ObserveJobFinished("backtest", "failed", 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsStarted.WithLabelValues("backtest")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsFinished.WithLabelValues("backtest", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsFinished.WithLabelValues("backtest", "failed")))
}

func TestMetrics_ObserveCacheOutcome_LabelsPerCache(t *testing.T) {
	m := New()

	m.ObserveCacheOutcome("topix", "hit")
	m.ObserveCacheOutcome("topix", "hit")
	m.ObserveCacheOutcome("topix", "miss")
	m.ObserveCacheOutcome("ohlcv", "wait")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheOutcomes.WithLabelValues("topix", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheOutcomes.WithLabelValues("topix", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheOutcomes.WithLabelValues("ohlcv", "wait")))
}

func TestMetrics_SSEStreamGauge_TracksOpenAndClose(t *testing.T) {
	m := New()

	m.SSEStreamOpened()
	m.SSEStreamOpened()
	m.SSEStreamClosed()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.sseStreams))
}

func TestMetrics_NilReceiver_IsSafe(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveJobStarted("sync")
		m.ObserveJobFinished("sync", "completed", time.Second)
		m.ObserveCacheOutcome("topix", "hit")
		m.ObserveUpstreamCall("daily_quotes", "ok")
		m.ObserveHTTPRequest("GET", "/api/health", "200", time.Millisecond)
		m.SSEStreamOpened()
		m.SSEStreamClosed()
	})
}

func TestMetrics_Gatherer_ExposesRegisteredFamilies(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("GET", "/api/health", "200", 2*time.Millisecond)

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}

	assert.Contains(t, names, "quantlab_http_requests_total")
	assert.Contains(t, names, "quantlab_http_request_duration_seconds")
}
