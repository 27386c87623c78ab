package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the AI pipeline. All methods
// are safe on a nil receiver and record nothing, so metrics-disabled
// deployments and tests pass nil instead of guarding every call site.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New creates the collectors on a private registry, so repeated construction
// in tests never trips duplicate-registration panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_requests_total",
				Help: "AI requests processed, by operation and terminal status",
			},
			[]string{"operation", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ai_request_duration_milliseconds",
				Help:    "End-to-end AI request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
			},
			[]string{"operation"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_provider_calls_total",
				Help: "Provider API calls, by provider, transport, and outcome",
			},
			[]string{"provider", "transport", "status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_cache_lookups_total",
				Help: "Response cache lookups, by result",
			},
			[]string{"result"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ai_rate_limited_total",
				Help: "Requests rejected by the sliding-window limiter, by scope",
			},
			[]string{"scope"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ai_queue_depth",
				Help: "Requests waiting in the priority queue",
			},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.providerCalls,
		m.cacheLookups,
		m.rateLimited,
		m.queueDepth,
		collectors.NewGoCollector(),
	)

	return m
}

// ObserveRequest records one finished request with its terminal status
// (success, degraded, or failed) and end-to-end duration.
func (m *Metrics) ObserveRequest(operation, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(durationMs)
}

// ObserveProviderCall records one physical provider call. Every attempt
// counts, including retries that later succeed.
func (m *Metrics) ObserveProviderCall(provider, transport string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.providerCalls.WithLabelValues(provider, transport, status).Inc()
}

// ObserveCacheLookup records a response cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRateLimited records a limiter rejection for a scope key.
func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// SetQueueDepth reports the current priority queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
