// Package metrics registers the service's Prometheus collectors and exposes
// them over HTTP. A nil *Metrics is valid and records nothing, so tests and
// the CLI can skip instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the latency buckets (in seconds) for HTTP and embed calls.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds every collector the service records into.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	embedCalls    *prometheus.CounterVec
	embedDuration prometheus.Histogram
	docsIngested  *prometheus.CounterVec
	breakerState  prometheus.Gauge
}

// New creates a registry labelled with the service name. Go runtime and
// process collectors are registered alongside the service collectors.
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		Registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm4vc_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm4vc_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: DefaultBuckets,
		}, []string{"method", "route"}),
		embedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm4vc_embed_calls_total",
			Help: "Calls to the embedding service by outcome",
		}, []string{"outcome"}),
		embedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm4vc_embed_duration_seconds",
			Help:    "Embedding service call latency",
			Buckets: DefaultBuckets,
		}),
		docsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm4vc_documents_ingested_total",
			Help: "Documents written to the vector store",
		}, []string{"source"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm4vc_embed_breaker_state",
			Help: "Embedding circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.embedCalls,
		m.embedDuration,
		m.docsIngested,
		m.breakerState,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveEmbed records one call to the embedding service.
func (m *Metrics) ObserveEmbed(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.embedCalls.WithLabelValues(outcome).Inc()
	m.embedDuration.Observe(d.Seconds())
}

// AddDocuments counts documents written to the store from source ("api", "csv").
func (m *Metrics) AddDocuments(source string, n int) {
	if m == nil {
		return
	}
	m.docsIngested.WithLabelValues(source).Add(float64(n))
}

// SetBreakerState records the embedding breaker state as its numeric value.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}
