package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/resilience"
)

// AlertType identifies the kind of operational alert.
type AlertType string

const (
	AlertAuditFailureRate AlertType = "audit_failure_rate"
	AlertLowAverageScore  AlertType = "low_average_score"
	AlertCriticalVolume   AlertType = "critical_alert_volume"
	AlertDeadLetters      AlertType = "dead_letters"
)

// minAudits is the window size below which rate-based alerts stay quiet.
const minAudits = 5

// Alert represents a single operational alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.AuditTotal >= minAudits && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAuditFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Audit failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d audits in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.AuditFailed, snap.AuditTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.AuditFailed,
				"total":        snap.AuditTotal,
			},
			Timestamp: now,
		})
	}

	if snap.AuditTotal >= minAudits && a.cfg.MinAvgScore > 0 && snap.AvgScore < a.cfg.MinAvgScore {
		alerts = append(alerts, Alert{
			Type:     AlertLowAverageScore,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average audit score %.1f is below %.1f over %d audits in last %dh",
				snap.AvgScore, a.cfg.MinAvgScore, snap.AuditTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_score": snap.AvgScore,
				"minimum":   a.cfg.MinAvgScore,
				"total":     snap.AuditTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CriticalAlertThreshold > 0 && snap.CriticalAlerts > a.cfg.CriticalAlertThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalVolume,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d critical record alerts in last %dh exceed threshold %d",
				snap.CriticalAlerts, snap.LookbackHours, a.cfg.CriticalAlertThreshold,
			),
			Details: map[string]any{
				"critical_alerts": snap.CriticalAlerts,
				"threshold":       a.cfg.CriticalAlertThreshold,
				"records":         snap.RecordsTotal,
			},
			Timestamp: now,
		})
	}

	if snap.DeadLetters > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertDeadLetters,
			Severity: "medium",
			Message:  fmt.Sprintf("%d audit write(s) waiting in the dead-letter list", snap.DeadLetters),
			Details: map[string]any{
				"dead_letters": snap.DeadLetters,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		retry := a.retry
		retry.OnRetry = resilience.RetryLogger("monitoring.alerter", string(alert.Type))
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. Retryable statuses
// come back as a TransientError.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
