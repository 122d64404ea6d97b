package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/store"
)

// MetricsSnapshot holds a point-in-time view of audit health.
type MetricsSnapshot struct {
	// Audits within the lookback window.
	AuditTotal     int     `json:"audit_total"`
	AuditPassed    int     `json:"audit_passed"`
	AuditFailed    int     `json:"audit_failed"`
	FailRate       float64 `json:"fail_rate"`
	AvgScore       float64 `json:"avg_score"`
	RecordsTotal   int     `json:"records_total"`
	CriticalAlerts int     `json:"critical_alerts"`

	// Dead letters waiting for replay, across all time.
	DeadLetters int `json:"dead_letters"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HistorySource is the part of the store the collector reads.
type HistorySource interface {
	ListAuditLogs(ctx context.Context, filter store.AuditLogFilter) ([]model.AuditLogEntry, error)
	CountDeadLetters(ctx context.Context) (int, error)
}

// Collector gathers audit metrics from the store.
type Collector struct {
	source  HistorySource
	metrics *Metrics
	now     func() time.Time
}

// NewCollector creates a new metrics collector. m may be nil.
func NewCollector(source HistorySource, m *Metrics) *Collector {
	return &Collector{source: source, metrics: m, now: time.Now}
}

// Collect gathers a snapshot of audit metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	logs, err := c.source.ListAuditLogs(ctx, store.AuditLogFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list audit logs")
	}

	var totalScore int
	for _, l := range logs {
		snap.AuditTotal++
		if l.Pass {
			snap.AuditPassed++
		} else {
			snap.AuditFailed++
		}
		totalScore += l.OverallScore
		snap.RecordsTotal += l.TotalRecords
		snap.CriticalAlerts += l.CriticalCount
	}
	if snap.AuditTotal > 0 {
		snap.FailRate = float64(snap.AuditFailed) / float64(snap.AuditTotal)
		snap.AvgScore = float64(totalScore) / float64(snap.AuditTotal)
	}

	depth, err := c.source.CountDeadLetters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dead letters")
	}
	snap.DeadLetters = depth
	c.metrics.SetDeadLetters(depth)

	return snap, nil
}
