// Package metrics provides Prometheus metrics for the scanner service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ScansCompleted      prometheus.Counter
	ScansFailed         prometheus.Counter
	ScanCacheHits       prometheus.Counter
	ScanDuration        prometheus.Histogram
	RemindersScheduled  prometheus.Counter
	RemindersFired      prometheus.Counter
	ActiveReminderJobs  prometheus.Gauge
	KnowledgeBaseSize   prometheus.Gauge
	RemoteLookups       *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		ScansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_scans_completed_total",
			Help: "Total prescription scans completed",
		}),
		ScansFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_scans_failed_total",
			Help: "Total prescription scans that failed",
		}),
		ScanCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_scan_cache_hits_total",
			Help: "Scans served from the content-addressed cache",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_scan_duration_seconds",
			Help:    "End-to-end scan processing duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		RemindersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_scheduled_total",
			Help: "Total reminder jobs registered",
		}),
		RemindersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminders_fired_total",
			Help: "Total reminder events published",
		}),
		ActiveReminderJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reminder_jobs_active",
			Help: "Currently registered reminder jobs",
		}),
		KnowledgeBaseSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medication_knowledge_base_entries",
			Help: "Entries in the local medication table",
		}),
		RemoteLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terminology_remote_lookups_total",
			Help: "Remote terminology lookups by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.ScansCompleted,
		m.ScansFailed,
		m.ScanCacheHits,
		m.ScanDuration,
		m.RemindersScheduled,
		m.RemindersFired,
		m.ActiveReminderJobs,
		m.KnowledgeBaseSize,
		m.RemoteLookups,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
