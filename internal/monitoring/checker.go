package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
)

// Replayer retries dead-lettered writes.
type Replayer interface {
	ReplayDeadLetters(ctx context.Context, limit int) (ReplayResult, error)
}

// Checker runs periodic alert checks in the background and, when given a
// Replayer, replays due dead letters on each tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	replayer  Replayer
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker. replayer may be nil.
func NewChecker(collector *Collector, alerter *Alerter, replayer Replayer, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		replayer:  replayer,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one replay and alert pass and returns the alerts raised.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	if c.replayer != nil {
		if _, err := c.replayer.ReplayDeadLetters(ctx, 100); err != nil {
			log.Error("monitoring: dead letter replay failed", zap.Error(err))
		}
	}

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
