package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions *prometheus.CounterVec
	probability prometheus.Histogram
	sideEffects *prometheus.CounterVec
}

// NewMetrics registers the service collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leak_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leak_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leak_predictions_total",
			Help: "Served predictions by outcome (leak or normal).",
		}, []string{"outcome"}),
		probability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leak_probability",
			Help:    "Distribution of predicted leak probabilities.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leak_side_effect_failures_total",
			Help: "Best-effort writes that failed after a prediction was served.",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.predictions,
		m.probability,
		m.sideEffects,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePrediction(probability float64, leak bool) {
	outcome := "normal"
	if leak {
		outcome = "leak"
	}
	m.predictions.WithLabelValues(outcome).Inc()
	m.probability.Observe(probability)
}

func (m *Metrics) SideEffectFailed(target string) {
	m.sideEffects.WithLabelValues(target).Inc()
}
