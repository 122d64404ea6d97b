package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/deal-audit/internal/model"
)

// Metrics exposes audit and persistence counters to Prometheus.
type Metrics struct {
	// Audits by verdict ("pass", "fail")
	Audits *prometheus.CounterVec

	// Overall score distribution
	Score prometheus.Histogram

	// Full pipeline latency
	AuditLatency prometheus.Histogram

	// Alerts by severity
	Alerts *prometheus.CounterVec

	// Rejections by agent ("dedup", "relevance")
	Rejections *prometheus.CounterVec

	// Records seen across all audits
	Records prometheus.Counter

	// Background writes that failed after retries, by task
	PersistFailures *prometheus.CounterVec

	// Background writes dropped because the queue was full, by task
	PersistDropped *prometheus.CounterVec

	// Dead letters currently parked
	DeadLetters prometheus.Gauge
}

// New registers the metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Audits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealaudit_audits_total",
			Help: "Total audits by verdict",
		}, []string{"verdict"}),

		Score: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealaudit_audit_score",
			Help:    "Overall audit score",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		AuditLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealaudit_audit_duration_seconds",
			Help:    "Duration of a full audit including store reads",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealaudit_alerts_total",
			Help: "Total audit alerts by severity",
		}, []string{"severity"}),

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealaudit_rejections_total",
			Help: "Total advisory rejections by agent",
		}, []string{"agent"}),

		Records: f.NewCounter(prometheus.CounterOpts{
			Name: "dealaudit_records_total",
			Help: "Total records audited",
		}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealaudit_persist_failures_total",
			Help: "Background writes that failed after retries, by task",
		}, []string{"task"}),

		PersistDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealaudit_persist_dropped_total",
			Help: "Background writes dropped on a full queue, by task",
		}, []string{"task"}),

		DeadLetters: f.NewGauge(prometheus.GaugeOpts{
			Name: "dealaudit_dead_letters",
			Help: "Dead letters waiting for replay",
		}),
	}
}

// ObserveAudit records a completed audit.
func (m *Metrics) ObserveAudit(r *model.AuditReport, elapsed time.Duration) {
	if m == nil || r == nil {
		return
	}
	verdict := "fail"
	if r.Pass {
		verdict = "pass"
	}
	m.Audits.WithLabelValues(verdict).Inc()
	m.Score.Observe(float64(r.OverallScore))
	m.AuditLatency.Observe(elapsed.Seconds())
	m.Records.Add(float64(r.TotalRecords))
	for _, a := range r.Alerts {
		m.Alerts.WithLabelValues(string(a.Severity)).Inc()
	}
	for _, rej := range r.Rejections {
		m.Rejections.WithLabelValues(rej.Agent).Inc()
	}
}

// IncrementPersistFailure records a write that exhausted its retries.
func (m *Metrics) IncrementPersistFailure(task string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(task).Inc()
	}
}

// IncrementPersistDropped records a write dropped on a full queue.
func (m *Metrics) IncrementPersistDropped(task string) {
	if m != nil {
		m.PersistDropped.WithLabelValues(task).Inc()
	}
}

// SetDeadLetters records the current dead-letter depth.
func (m *Metrics) SetDeadLetters(n int) {
	if m != nil {
		m.DeadLetters.Set(float64(n))
	}
}
