package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
)

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(newMockStore(), nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.AuditTotal)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 0.0, snap.AvgScore)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_AuditMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := newMockStore()
	st.logs = []model.AuditLogEntry{
		{ID: "1", Pass: true, OverallScore: 90, TotalRecords: 10, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "2", Pass: true, OverallScore: 80, TotalRecords: 5, CriticalCount: 1, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "3", Pass: false, OverallScore: 40, TotalRecords: 5, CriticalCount: 3, CreatedAt: now.Add(-3 * time.Hour)},
		// Outside lookback window.
		{ID: "4", Pass: false, OverallScore: 10, CreatedAt: now.Add(-48 * time.Hour)},
	}
	st.dead["a"] = resilience.DeadLetter{ID: "a"}
	st.dead["b"] = resilience.DeadLetter{ID: "b"}

	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	c := NewCollector(st, m)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.AuditTotal)
	assert.Equal(t, 2, snap.AuditPassed)
	assert.Equal(t, 1, snap.AuditFailed)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.InDelta(t, 70.0, snap.AvgScore, 0.001)
	assert.Equal(t, 20, snap.RecordsTotal)
	assert.Equal(t, 4, snap.CriticalAlerts)
	assert.Equal(t, 2, snap.DeadLetters)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeadLetters))
}

func TestCollector_ListError(t *testing.T) {
	st := newMockStore()
	st.listErr = errors.New("db down")

	_, err := NewCollector(st, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list audit logs")
}

func TestCollector_CountError(t *testing.T) {
	st := newMockStore()
	st.countErr = errors.New("db down")

	_, err := NewCollector(st, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count dead letters")
}
