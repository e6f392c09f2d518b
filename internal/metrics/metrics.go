// Package metrics provides Prometheus metrics for the settlement oracle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OracleMetrics collects and exposes resolution-related metrics.
type OracleMetrics struct {
	registry *prometheus.Registry

	// ResolutionsTotal counts settled wagers by terminal status.
	ResolutionsTotal *prometheus.CounterVec
	// ResolutionErrors counts failed resolution attempts by source
	// (stats, ledger) and kind (transient, permanent).
	ResolutionErrors *prometheus.CounterVec
	// SettlementDuration measures end-to-end Resolve latency in seconds.
	SettlementDuration prometheus.Histogram
	// EligibleWagers is the size of the last eligibility listing.
	EligibleWagers prometheus.Gauge
	// StatsFetches counts provider calls by metric and result.
	StatsFetches *prometheus.CounterVec
}

// New creates an OracleMetrics backed by its own registry.
func New() *OracleMetrics {
	registry := prometheus.NewRegistry()

	m := &OracleMetrics{
		registry: registry,
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castmarket_resolutions_total",
				Help: "Total number of wagers settled, by terminal status",
			},
			[]string{"status"},
		),
		ResolutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castmarket_resolution_errors_total",
				Help: "Failed resolution attempts by source and kind",
			},
			[]string{"source", "kind"},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castmarket_settlement_duration_seconds",
				Help:    "End-to-end latency of a successful Resolve call",
				Buckets: prometheus.DefBuckets,
			},
		),
		EligibleWagers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "castmarket_eligible_wagers",
				Help: "Number of wagers due for resolution at the last poll",
			},
		),
		StatsFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castmarket_stats_fetches_total",
				Help: "Stats provider calls by metric and result",
			},
			[]string{"metric", "result"},
		),
	}

	registry.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionErrors,
		m.SettlementDuration,
		m.EligibleWagers,
		m.StatsFetches,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *OracleMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
