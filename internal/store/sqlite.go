package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deal-audit/internal/model"
	"github.com/sells-group/deal-audit/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "deal-audit.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scraper_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scraper_domain_rules (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL,
	rule_type  TEXT NOT NULL CHECK (rule_type IN ('whitelist', 'blacklist')),
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (domain, rule_type)
);

CREATE TABLE IF NOT EXISTS scraper_dedup_hashes (
	address_hash TEXT PRIMARY KEY,
	price        REAL NOT NULL DEFAULT 0,
	source       TEXT NOT NULL DEFAULT '',
	seen_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scraper_audit_logs (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL DEFAULT '',
	caller_id        TEXT NOT NULL,
	overall_score    INTEGER NOT NULL,
	pass             INTEGER NOT NULL,
	total_records    INTEGER NOT NULL,
	alerts_count     INTEGER NOT NULL,
	critical_count   INTEGER NOT NULL,
	integrity_score  INTEGER NOT NULL,
	structural_score INTEGER NOT NULL,
	relevance_score  INTEGER NOT NULL,
	crosscheck_score INTEGER NOT NULL,
	dedup_score      INTEGER NOT NULL,
	avg_price        REAL NOT NULL DEFAULT 0,
	avg_arv          REAL NOT NULL DEFAULT 0,
	report           TEXT,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scraper_rejection_logs (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL DEFAULT '',
	caller_id    TEXT NOT NULL,
	record_index INTEGER NOT NULL,
	record       TEXT,
	agent        TEXT NOT NULL,
	reason       TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scraper_dead_letters (
	id             TEXT PRIMARY KEY,
	task           TEXT NOT NULL,
	payload        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON scraper_audit_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_caller ON scraper_audit_logs(caller_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON scraper_audit_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_rejection_logs_session ON scraper_rejection_logs(session_id);
CREATE INDEX IF NOT EXISTS idx_dead_letters_next_retry ON scraper_dead_letters(next_retry_at);
`

// Migrate creates the audit tables when missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FetchConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM scraper_config`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch config")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan config")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch config iterate")
}

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return eris.New("sqlite: config key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set config %s", key)
}

func (s *SQLiteStore) FetchDomainRules(ctx context.Context) ([]model.DomainRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, rule_type FROM scraper_domain_rules ORDER BY domain, rule_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch domain rules")
	}
	defer rows.Close()

	rules := []model.DomainRule{}
	for rows.Next() {
		var r model.DomainRule
		if err := rows.Scan(&r.Domain, &r.RuleType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan domain rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: fetch domain rules iterate")
}

func (s *SQLiteStore) AddDomainRule(ctx context.Context, rule model.DomainRule) error {
	domain := strings.ToLower(strings.TrimSpace(rule.Domain))
	if domain == "" || !validRuleType(rule.RuleType) {
		return eris.Errorf("sqlite: invalid domain rule %q/%q", rule.Domain, rule.RuleType)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_domain_rules (id, domain, rule_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (domain, rule_type) DO NOTHING`,
		uuid.New().String(), domain, rule.RuleType, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: add domain rule %s", domain)
}

func (s *SQLiteStore) LookupHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(hashes) == 0 {
		return found, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT address_hash FROM scraper_dedup_hashes WHERE address_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup hashes")
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan hash")
		}
		found[h] = true
	}
	return found, eris.Wrap(rows.Err(), "sqlite: lookup hashes iterate")
}

func (s *SQLiteStore) UpsertHashes(ctx context.Context, records []model.DedupHashRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert hashes")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scraper_dedup_hashes (address_hash, price, source, seen_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (address_hash) DO UPDATE SET price = excluded.price, source = excluded.source, seen_at = excluded.seen_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert hashes")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		seen := r.SeenAt
		if seen.IsZero() {
			seen = now
		}
		if _, err := stmt.ExecContext(ctx, r.AddressHash, r.Price, r.Source, seen.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: upsert hash %s", r.AddressHash)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert hashes")
}

const auditLogColumns = `id, session_id, caller_id, overall_score, pass, total_records, alerts_count,
	critical_count, integrity_score, structural_score, relevance_score, crosscheck_score, dedup_score,
	avg_price, avg_arv, report, created_at`

func (s *SQLiteStore) FetchBaseline(ctx context.Context, window int) (*model.Baseline, error) {
	if window <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT avg_price, avg_arv, overall_score FROM scraper_audit_logs
		 ORDER BY created_at DESC LIMIT ?`, window)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch baseline")
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.AvgPrice, &e.AvgARV, &e.OverallScore); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan baseline")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch baseline iterate")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return baselineOf(entries), nil
}

func (s *SQLiteStore) AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var report any
	if entry.Report != nil {
		b, err := json.Marshal(entry.Report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit report")
		}
		report = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_audit_logs (`+auditLogColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.CallerID, entry.OverallScore, entry.Pass, entry.TotalRecords,
		entry.AlertsCount, entry.CriticalCount, entry.IntegrityScore, entry.StructuralScore,
		entry.RelevanceScore, entry.CrossCheckScore, entry.DedupScore, entry.AvgPrice, entry.AvgARV,
		report, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert audit log")
}

func (s *SQLiteStore) AppendRejections(ctx context.Context, entries []model.RejectionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append rejections")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scraper_rejection_logs (id, session_id, caller_id, record_index, record, agent, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare append rejections")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		row, err := rejectionRow(e, now)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal rejected record")
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert rejection for record %d", e.RecordIndex)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append rejections")
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]model.AuditLogEntry, error) {
	query := `SELECT ` + auditLogColumns + ` FROM scraper_audit_logs WHERE 1=1`
	var args []any

	if filter.CallerID != "" {
		query += ` AND caller_id = ?`
		args = append(args, filter.CallerID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.FailedOnly {
		query += ` AND pass = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit logs")
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		e, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit logs iterate")
}

func (s *SQLiteStore) GetAuditLog(ctx context.Context, id string) (*model.AuditLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditLogColumns+` FROM scraper_audit_logs WHERE id = ?`, id)
	e, err := scanAuditLog(row)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "audit log %s", id)
	}
	return e, err
}

func (s *SQLiteStore) ListRejections(ctx context.Context, filter RejectionFilter) ([]model.RejectionLogEntry, error) {
	query := `SELECT id, session_id, caller_id, record_index, record, agent, reason, created_at
		FROM scraper_rejection_logs WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Agent != "" {
		query += ` AND agent = ?`
		args = append(args, filter.Agent)
	}
	query += ` ORDER BY created_at DESC, record_index LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rejections")
	}
	defer rows.Close()

	out := []model.RejectionLogEntry{}
	for rows.Next() {
		var e model.RejectionLogEntry
		var record sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CallerID, &e.RecordIndex, &record, &e.Agent, &e.Reason, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rejection")
		}
		if record.Valid {
			if err := json.Unmarshal([]byte(record.String), &e.Record); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal rejected record")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rejections iterate")
}

// Dead letter methods

func (s *SQLiteStore) EnqueueDeadLetter(ctx context.Context, entry resilience.DeadLetter) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_dead_letters
		 (id, task, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Task, string(entry.Payload), entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dead letter")
}

func (s *SQLiteStore) DueDeadLetters(ctx context.Context, filter resilience.DeadLetterFilter) ([]resilience.DeadLetter, error) {
	query := `SELECT id, task, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM scraper_dead_letters
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.Task != "" {
		query += ` AND task = ?`
		args = append(args, filter.Task)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due dead letters")
	}
	defer rows.Close()

	var entries []resilience.DeadLetter
	for rows.Next() {
		var e resilience.DeadLetter
		var payload string
		if err := rows.Scan(&e.ID, &e.Task, &payload, &e.Error, &e.ErrorType, &e.RetryCount,
			&e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: due dead letters iterate")
}

func (s *SQLiteStore) IncrementDeadLetterRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scraper_dead_letters
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dead letter retry %s", id)
	}
	return checkRowsAffected(res, "dead letter", id)
}

func (s *SQLiteStore) RemoveDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scraper_dead_letters WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dead letter")
}

func (s *SQLiteStore) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraper_dead_letters`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dead letters")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAuditLog(row scannable) (*model.AuditLogEntry, error) {
	var e model.AuditLogEntry
	var report sql.NullString

	err := row.Scan(&e.ID, &e.SessionID, &e.CallerID, &e.OverallScore, &e.Pass, &e.TotalRecords,
		&e.AlertsCount, &e.CriticalCount, &e.IntegrityScore, &e.StructuralScore, &e.RelevanceScore,
		&e.CrossCheckScore, &e.DedupScore, &e.AvgPrice, &e.AvgARV, &report, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan audit log")
	}
	if report.Valid && report.String != "" {
		e.Report = &model.AuditReport{}
		if err := json.Unmarshal([]byte(report.String), e.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit report")
		}
	}
	return &e, nil
}

// rejectionRow flattens a rejection into insert arguments in column order.
func rejectionRow(e model.RejectionLogEntry, now time.Time) ([]any, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = now
	}
	var record any
	if e.Record != nil {
		b, err := json.Marshal(e.Record)
		if err != nil {
			return nil, err
		}
		record = string(b)
	}
	return []any{e.ID, e.SessionID, e.CallerID, e.RecordIndex, record, e.Agent, e.Reason, created.UTC()}, nil
}
