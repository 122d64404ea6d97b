// Package store persists audit configuration, dedup fingerprints and audit
// history. SQLite serves single-node and CLI use; Postgres serves the shared
// service.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-audit/internal/config"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// AuditLogFilter specifies criteria for listing audit logs.
type AuditLogFilter struct {
	CallerID     string    `json:"caller_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	FailedOnly   bool      `json:"failed_only,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// RejectionFilter specifies criteria for listing rejection logs.
type RejectionFilter struct {
	SessionID string `json:"session_id,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the audit pipeline.
type Store interface {
	// Config
	FetchConfig(ctx context.Context) (map[string]string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Domain rules
	FetchDomainRules(ctx context.Context) ([]model.DomainRule, error)
	AddDomainRule(ctx context.Context, rule model.DomainRule) error

	// Dedup hashes
	LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	UpsertHashes(ctx context.Context, records []model.DedupHashRecord) error

	// Audit history
	FetchBaseline(ctx context.Context, window int) (*model.Baseline, error)
	AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error
	AppendRejections(ctx context.Context, entries []model.RejectionLogEntry) error
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]model.AuditLogEntry, error)
	GetAuditLog(ctx context.Context, id string) (*model.AuditLogEntry, error)
	ListRejections(ctx context.Context, filter RejectionFilter) ([]model.RejectionLogEntry, error)

	// Dead letters
	EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error
	DueDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error)
	IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDeadLetter(ctx context.Context, id string) error
	CountDeadLetters(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store selected by cfg.Driver and, when cache.URL is
// set, fronts it with the Redis hash cache. An unreachable cache is logged
// and the store is returned uncached.
func Open(ctx context.Context, cfg config.StoreConfig, cache config.RedisConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	client, err := NewRedisClient(ctx, cache)
	if err != nil {
		zap.L().Warn("store: redis cache unavailable, continuing without it", zap.Error(err))
		return s, nil
	}
	if client == nil {
		return s, nil
	}
	return NewCachedStore(s, client, cache), nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 10000
)

func listLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}

// baselineOf averages the price, ARV and score of recent audit summaries,
// skipping zero values.
func baselineOf(entries []model.AuditLogEntry) *model.Baseline {
	b := &model.Baseline{SessionCount: len(entries)}
	var nPrice, nARV int
	for _, e := range entries {
		if e.AvgPrice > 0 {
			b.AvgPrice += e.AvgPrice
			nPrice++
		}
		if e.AvgARV > 0 {
			b.AvgARV += e.AvgARV
			nARV++
		}
		b.AvgScore += float64(e.OverallScore)
	}
	if nPrice > 0 {
		b.AvgPrice /= float64(nPrice)
	}
	if nARV > 0 {
		b.AvgARV /= float64(nARV)
	}
	if len(entries) > 0 {
		b.AvgScore /= float64(len(entries))
	}
	return b
}

func validRuleType(t string) bool {
	return t == model.RuleWhitelist || t == model.RuleBlacklist
}
