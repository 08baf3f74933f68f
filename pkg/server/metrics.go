package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skuldgraph/skuld/pkg/skuld"
)

// Metrics collects Prometheus metrics for the HTTP surface and the
// engine behind it.
//
// Metrics exposed (all namespaced "skuld_"):
//   - http_requests_total (counter): requests by route and status class
//   - http_request_duration_seconds (histogram): latency by route
//   - nodes (gauge): current node count
//   - edges (gauge): current directed edge count
//   - vectors (gauge): live vector-index entries
//   - decisions (gauge): journal length
//
// The gauges read the engine's count accessors at scrape time, so they
// need no update hooks on the write path.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	registry *prometheus.Registry
}

// NewMetrics registers all collectors against a fresh registry.
func NewMetrics(db *skuld.DB) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skuld",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skuld",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skuld", Name: "nodes", Help: "Current node count.",
	}, func() float64 { return float64(db.NodeCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skuld", Name: "edges", Help: "Current directed edge count.",
	}, func() float64 { return float64(db.EdgeCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skuld", Name: "vectors", Help: "Live vector index entries.",
	}, func() float64 { return float64(db.VectorCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skuld", Name: "decisions", Help: "Decision journal length.",
	}, func() float64 { return float64(db.DecisionCount()) })

	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(route, status string, seconds float64) {
	m.requests.WithLabelValues(route, status).Inc()
	m.duration.WithLabelValues(route).Observe(seconds)
}
