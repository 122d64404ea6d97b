package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/model"
)

type countingReplayer struct {
	calls int
}

func (r *countingReplayer) ReplayDeadLetters(context.Context, int) (ReplayResult, error) {
	r.calls++
	return ReplayResult{}, nil
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(newMockStore(), nil)
	alerter := NewAlerter(config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	})
	checker := NewChecker(collector, alerter, nil, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick once then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	collector := NewCollector(newMockStore(), nil)
	alerter := NewAlerter(config.MonitoringConfig{})

	// Zero interval should default to 5 minutes.
	checker := NewChecker(collector, alerter, nil, config.MonitoringConfig{CheckIntervalSecs: 0})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckRaisesAlerts(t *testing.T) {
	now := time.Now().UTC()
	st := newMockStore()
	for i := 0; i < 6; i++ {
		st.logs = append(st.logs, model.AuditLogEntry{OverallScore: 30, CreatedAt: now.Add(-time.Hour)})
	}
	cfg := config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		MinAvgScore:          60,
		LookbackWindowHours:  24,
	}
	replayer := &countingReplayer{}
	checker := NewChecker(NewCollector(st, nil), NewAlerter(cfg), replayer, cfg)

	alerts := checker.Check(context.Background(), zap.NewNop())
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertAuditFailureRate, alerts[0].Type)
	assert.Equal(t, AlertLowAverageScore, alerts[1].Type)
	assert.Equal(t, 1, replayer.calls)
}

func TestChecker_CheckCollectError(t *testing.T) {
	st := newMockStore()
	st.listErr = assert.AnError
	checker := NewChecker(NewCollector(st, nil), NewAlerter(config.MonitoringConfig{}), nil, config.MonitoringConfig{})

	assert.Nil(t, checker.Check(context.Background(), zap.NewNop()))
}
