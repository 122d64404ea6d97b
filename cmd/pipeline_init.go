package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/monitoring"
	"github.com/sells-group/deal-audit/internal/pipeline"
	"github.com/sells-group/deal-audit/internal/store"
)

// persistDrainTimeout bounds how long Close waits for queued writes.
const persistDrainTimeout = 15 * time.Second

// auditEnv holds the store, the background persister and the pipeline
// needed by the audit/serve/monitor commands.
type auditEnv struct {
	Store     store.Store           // nil when offline
	Persister *monitoring.Persister // nil when offline
	Pipeline  *pipeline.Pipeline
	Metrics   *monitoring.Metrics
	Registry  *prometheus.Registry
}

// Close drains pending writes and releases the store.
func (e *auditEnv) Close() {
	if e.Persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistDrainTimeout)
		defer cancel()
		if err := e.Persister.Stop(ctx); err != nil {
			zap.L().Warn("persister did not drain", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// newRegistry returns a registry carrying the Go runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// initAudit builds the pipeline. With offline set, or when the store cannot
// be opened, no store is used: the pipeline runs on configured defaults and
// records nothing. Callers should defer env.Close().
func initAudit(ctx context.Context, offline bool) (*auditEnv, error) {
	reg := newRegistry()
	metrics := monitoring.NewWithRegistry(reg)
	settings := pipeline.SettingsFromConfig(cfg)

	offlineEnv := func() *auditEnv {
		return &auditEnv{
			Pipeline: pipeline.New(nil, nil, settings, pipeline.WithObserver(metrics)),
			Metrics:  metrics,
			Registry: reg,
		}
	}
	if offline {
		return offlineEnv(), nil
	}

	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("store unavailable, auditing without history or cross-session dedup", zap.Error(err))
		return offlineEnv(), nil
	}

	persister := monitoring.NewPersister(st, cfg.Persist, monitoring.WithMetrics(metrics))
	// Queued writes outlive the command context and drain in Close.
	persister.Start(context.WithoutCancel(ctx))

	return &auditEnv{
		Store:     st,
		Persister: persister,
		Pipeline:  pipeline.New(st, persister, settings, pipeline.WithObserver(metrics)),
		Metrics:   metrics,
		Registry:  reg,
	}, nil
}
