package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-audit/internal/db"
	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection; they cover the
// reads every audit performs.
var preparedStatements = map[string]string{
	"fetch_config":       `SELECT key, value FROM scraper_config`,
	"fetch_domain_rules": `SELECT domain, rule_type FROM scraper_domain_rules ORDER BY domain, rule_type`,
	"lookup_hashes":      `SELECT address_hash FROM scraper_dedup_hashes WHERE address_hash = ANY($1)`,
	"fetch_baseline":     `SELECT avg_price, avg_arv, overall_score FROM scraper_audit_logs ORDER BY created_at DESC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scraper_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_domain_rules (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain     TEXT NOT NULL,
	rule_type  TEXT NOT NULL CHECK (rule_type IN ('whitelist', 'blacklist')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (domain, rule_type)
);

CREATE TABLE IF NOT EXISTS scraper_dedup_hashes (
	address_hash TEXT PRIMARY KEY,
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT '',
	seen_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_audit_logs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id       TEXT NOT NULL DEFAULT '',
	caller_id        TEXT NOT NULL,
	overall_score    INTEGER NOT NULL,
	pass             BOOLEAN NOT NULL,
	total_records    INTEGER NOT NULL,
	alerts_count     INTEGER NOT NULL,
	critical_count   INTEGER NOT NULL,
	integrity_score  INTEGER NOT NULL,
	structural_score INTEGER NOT NULL,
	relevance_score  INTEGER NOT NULL,
	crosscheck_score INTEGER NOT NULL,
	dedup_score      INTEGER NOT NULL,
	avg_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_arv          DOUBLE PRECISION NOT NULL DEFAULT 0,
	report           JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_rejection_logs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id   TEXT NOT NULL DEFAULT '',
	caller_id    TEXT NOT NULL,
	record_index INTEGER NOT NULL,
	record       JSONB,
	agent        TEXT NOT NULL,
	reason       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_dead_letters (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task           TEXT NOT NULL,
	payload        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON scraper_audit_logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_caller ON scraper_audit_logs(caller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON scraper_audit_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_rejection_logs_session ON scraper_rejection_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_dead_letters_next_retry ON scraper_dead_letters(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FetchConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM scraper_config`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch config")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan config")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch config iterate")
}

func (s *PostgresStore) SetConfig(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return eris.New("postgres: config key is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scraper_config (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set config %s", key)
}

func (s *PostgresStore) FetchDomainRules(ctx context.Context) ([]model.DomainRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, rule_type FROM scraper_domain_rules ORDER BY domain, rule_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch domain rules")
	}
	defer rows.Close()

	rules := []model.DomainRule{}
	for rows.Next() {
		var r model.DomainRule
		if err := rows.Scan(&r.Domain, &r.RuleType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan domain rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: fetch domain rules iterate")
}

func (s *PostgresStore) AddDomainRule(ctx context.Context, rule model.DomainRule) error {
	domain := strings.ToLower(strings.TrimSpace(rule.Domain))
	if domain == "" || !validRuleType(rule.RuleType) {
		return eris.Errorf("postgres: invalid domain rule %q/%q", rule.Domain, rule.RuleType)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scraper_domain_rules (domain, rule_type) VALUES ($1, $2)
		 ON CONFLICT (domain, rule_type) DO NOTHING`,
		domain, rule.RuleType,
	)
	return eris.Wrapf(err, "postgres: add domain rule %s", domain)
}

func (s *PostgresStore) LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT address_hash FROM scraper_dedup_hashes WHERE address_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup hashes")
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "postgres: scan hash")
		}
		found[h] = true
	}
	return found, eris.Wrap(rows.Err(), "postgres: lookup hashes iterate")
}

var hashUpsert = db.UpsertConfig{
	Table:        "scraper_dedup_hashes",
	Columns:      []string{"address_hash", "price", "source", "seen_at"},
	ConflictKeys: []string{"address_hash"},
}

// UpsertHashes merges fingerprints through a temp-table COPY so a batch of
// hundreds of hashes costs one round trip. Duplicate hashes within the batch
// keep the last occurrence.
func (s *PostgresStore) UpsertHashes(ctx context.Context, records []model.DedupHashRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	pos := make(map[string]int, len(records))
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		seen := r.SeenAt
		if seen.IsZero() {
			seen = now
		}
		row := []any{r.AddressHash, r.Price, r.Source, seen}
		if i, ok := pos[r.AddressHash]; ok {
			rows[i] = row
			continue
		}
		pos[r.AddressHash] = len(rows)
		rows = append(rows, row)
	}

	_, err := db.BulkUpsert(ctx, s.pool, hashUpsert, rows)
	return eris.Wrap(err, "postgres: upsert hashes")
}

func (s *PostgresStore) FetchBaseline(ctx context.Context, window int) (*model.Baseline, error) {
	if window <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT avg_price, avg_arv, overall_score FROM scraper_audit_logs ORDER BY created_at DESC LIMIT $1`, window)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch baseline")
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.AvgPrice, &e.AvgARV, &e.OverallScore); err != nil {
			return nil, eris.Wrap(err, "postgres: scan baseline")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: fetch baseline iterate")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return baselineOf(entries), nil
}

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var report []byte
	if entry.Report != nil {
		var err error
		if report, err = json.Marshal(entry.Report); err != nil {
			return eris.Wrap(err, "postgres: marshal audit report")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scraper_audit_logs (`+auditLogColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.ID, entry.SessionID, entry.CallerID, entry.OverallScore, entry.Pass, entry.TotalRecords,
		entry.AlertsCount, entry.CriticalCount, entry.IntegrityScore, entry.StructuralScore,
		entry.RelevanceScore, entry.CrossCheckScore, entry.DedupScore, entry.AvgPrice, entry.AvgARV,
		report, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert audit log")
}

var rejectionColumns = []string{"id", "session_id", "caller_id", "record_index", "record", "agent", "reason", "created_at"}

// AppendRejections bulk-loads rejections with COPY.
func (s *PostgresStore) AppendRejections(ctx context.Context, entries []model.RejectionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		row, err := rejectionRow(e, now)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal rejected record")
		}
		// JSONB columns take raw bytes.
		if rec, ok := row[4].(string); ok {
			row[4] = []byte(rec)
		}
		rows = append(rows, row)
	}

	_, err := db.CopyFrom(ctx, s.pool, "scraper_rejection_logs", rejectionColumns, rows)
	return eris.Wrap(err, "postgres: append rejections")
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]model.AuditLogEntry, error) {
	query := `SELECT ` + auditLogColumns + ` FROM scraper_audit_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CallerID != "" {
		query += fmt.Sprintf(` AND caller_id = $%d`, argIdx)
		args = append(args, filter.CallerID)
		argIdx++
	}
	if filter.SessionID != "" {
		query += fmt.Sprintf(` AND session_id = $%d`, argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	if filter.FailedOnly {
		query += ` AND NOT pass`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit logs")
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		e, err := scanPgAuditLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit logs iterate")
}

func (s *PostgresStore) GetAuditLog(ctx context.Context, id string) (*model.AuditLogEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auditLogColumns+` FROM scraper_audit_logs WHERE id = $1`, id)
	e, err := scanPgAuditLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "audit log %s", id)
	}
	return e, err
}

func (s *PostgresStore) ListRejections(ctx context.Context, filter RejectionFilter) ([]model.RejectionLogEntry, error) {
	query := `SELECT id, session_id, caller_id, record_index, record, agent, reason, created_at
		FROM scraper_rejection_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SessionID != "" {
		query += fmt.Sprintf(` AND session_id = $%d`, argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Agent != "" {
		query += fmt.Sprintf(` AND agent = $%d`, argIdx)
		args = append(args, filter.Agent)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, record_index LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rejections")
	}
	defer rows.Close()

	out := []model.RejectionLogEntry{}
	for rows.Next() {
		var e model.RejectionLogEntry
		var record *[]byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CallerID, &e.RecordIndex, &record, &e.Agent, &e.Reason, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rejection")
		}
		if record != nil {
			if err := json.Unmarshal(*record, &e.Record); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal rejected record")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rejections iterate")
}

// Dead letter methods

func (s *PostgresStore) EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	if entry.NextRetryAt.IsZero() {
		entry.NextRetryAt = entry.NextBackoff(now)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scraper_dead_letters
		 (id, task, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, retry_count = $6, next_retry_at = $8, last_failed_at = $10`,
		entry.ID, entry.Task, []byte(entry.Payload), entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dead letter")
}

func (s *PostgresStore) DueDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	query := `SELECT id, task, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM scraper_dead_letters
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.Task != "" {
		query += fmt.Sprintf(` AND task = $%d`, argIdx)
		args = append(args, filter.Task)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due dead letters")
	}
	defer rows.Close()

	var entries []resilience.DeadLetter
	for rows.Next() {
		var e resilience.DeadLetter
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Task, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due dead letters iterate")
}

func (s *PostgresStore) IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraper_dead_letters
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dead letter retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dead letter %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDeadLetter(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scraper_dead_letters WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dead letter")
}

func (s *PostgresStore) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scraper_dead_letters`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dead letters")
}

func scanPgAuditLog(row pgx.Row) (*model.AuditLogEntry, error) {
	var e model.AuditLogEntry
	var report *[]byte

	err := row.Scan(&e.ID, &e.SessionID, &e.CallerID, &e.OverallScore, &e.Pass, &e.TotalRecords,
		&e.AlertsCount, &e.CriticalCount, &e.IntegrityScore, &e.StructuralScore, &e.RelevanceScore,
		&e.CrossCheckScore, &e.DedupScore, &e.AvgPrice, &e.AvgARV, &report, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan audit log")
	}
	if report != nil && len(*report) > 0 {
		e.Report = &model.AuditReport{}
		if err := json.Unmarshal(*report, e.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit report")
		}
	}
	return &e, nil
}
