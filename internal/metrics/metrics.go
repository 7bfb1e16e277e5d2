// Package metrics exposes Prometheus instrumentation for the quantlab service.
//
// All collectors are registered on a private registry owned by the Metrics
// struct rather than the package-global default registry, so tests and
// multiple service instances never collide. The HTTP layer mounts the
// registry via promhttp.HandlerFor(m.Gatherer(), ...).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service records into.
//
// Construct once at startup with New and inject into the components that
// record observations. A nil *Metrics is safe to pass around: the Observe*
// helpers no-op so unit tests can skip instrumentation entirely.
type Metrics struct {
	registry *prometheus.Registry

	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	cacheOutcomes *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	sseStreams    prometheus.Gauge
}

// New builds the full collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantlab_jobs_started_total",
			Help: "Jobs admitted by the executor, by kind.",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantlab_jobs_finished_total",
			Help: "Jobs that reached a terminal status, by kind and status.",
		}, []string{"kind", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantlab_job_duration_seconds",
			Help:    "Wall-clock job execution time from slot acquisition to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18),
		}, []string{"kind"}),
		cacheOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantlab_cache_requests_total",
			Help: "Single-flight cache lookups, by cache name and outcome (hit, miss, wait).",
		}, []string{"cache", "outcome"}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantlab_upstream_requests_total",
			Help: "Outbound J-Quants requests, by endpoint and result.",
		}, []string{"endpoint", "result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quantlab_http_requests_total",
			Help: "Inbound HTTP requests, by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantlab_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sseStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quantlab_sse_streams_active",
			Help: "Currently open SSE subscriber streams.",
		}),
	}
}

// Gatherer exposes the private registry for promhttp.HandlerFor.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveJobStarted records a job entering the running state.
func (m *Metrics) ObserveJobStarted(kind string) {
	if m == nil {
		return
	}

	m.jobsStarted.WithLabelValues(kind).Inc()
}

// ObserveJobFinished records a terminal transition together with its duration.
func (m *Metrics) ObserveJobFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveCacheOutcome records a get-or-set result for a named cache.
func (m *Metrics) ObserveCacheOutcome(cache, outcome string) {
	if m == nil {
		return
	}

	m.cacheOutcomes.WithLabelValues(cache, outcome).Inc()
}

// ObserveUpstreamCall records one outbound request attempt and its result
// ("ok", "retriable", "failed").
func (m *Metrics) ObserveUpstreamCall(endpoint, result string) {
	if m == nil {
		return
	}

	m.upstreamCalls.WithLabelValues(endpoint, result).Inc()
}

// ObserveHTTPRequest records a completed inbound request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SSEStreamOpened increments the active stream gauge.
func (m *Metrics) SSEStreamOpened() {
	if m == nil {
		return
	}

	m.sseStreams.Inc()
}

// SSEStreamClosed decrements the active stream gauge.
func (m *Metrics) SSEStreamClosed() {
	if m == nil {
		return
	}

	m.sseStreams.Dec()
}
