// Package metrics holds the Prometheus instruments for scans, decisions,
// honeytokens and alert delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FilesScanned      *prometheus.CounterVec
	ExtractorFailures *prometheus.CounterVec
	RiskScore         prometheus.Histogram
	ScanDuration      prometheus.Histogram
	BatchesTotal      *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	HoneySetsActive   prometheus.Gauge
}

// New creates the instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FilesScanned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backupsentry_files_scanned_total",
			Help: "Files decided, by action",
		}, []string{"action"}),
		ExtractorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backupsentry_extractor_failures_total",
			Help: "Extractor failures that produced a partial signal",
		}, []string{"extractor"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "backupsentry_risk_score",
			Help:    "Distribution of per-file risk scores",
			Buckets: []float64{0, 10, 20, 35, 40, 50, 60, 70, 80, 90, 100},
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "backupsentry_scan_duration_seconds",
			Help:    "Wall time of a scan pass",
			Buckets: prometheus.DefBuckets,
		}),
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backupsentry_batches_total",
			Help: "Scan passes completed, by worst action",
		}, []string{"worst_action"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backupsentry_alerts_total",
			Help: "Alert events emitted, by kind",
		}, []string{"kind"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backupsentry_sink_errors_total",
			Help: "Alert sink delivery failures, by sink",
		}, []string{"sink"}),
		HoneySetsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "backupsentry_honey_sets_active",
			Help: "Honey backup sets currently watched",
		}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileDecided records one verdict.
func (m *Metrics) FileDecided(action string, risk int) {
	if m == nil {
		return
	}
	m.FilesScanned.WithLabelValues(action).Inc()
	m.RiskScore.Observe(float64(risk))
}

// ExtractorFailed records one extractor failure.
func (m *Metrics) ExtractorFailed(extractor string) {
	if m == nil {
		return
	}
	m.ExtractorFailures.WithLabelValues(extractor).Inc()
}

// BatchDone records a completed scan pass.
func (m *Metrics) BatchDone(worst string, seconds float64) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(worst).Inc()
	m.ScanDuration.Observe(seconds)
}

// Alert records an emitted alert.
func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(kind).Inc()
}

// SinkFailed records a failed delivery.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// HoneySets adjusts the active honey set gauge by delta.
func (m *Metrics) HoneySets(delta float64) {
	if m == nil {
		return
	}
	m.HoneySetsActive.Add(delta)
}
