package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashUpsert = UpsertConfig{
	Table:        "scraper_dedup_hashes",
	Columns:      []string{"address_hash", "price", "source", "seen_at"},
	ConflictKeys: []string{"address_hash"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, hashUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "scraper_dedup_hashes",
		ConflictKeys: []string{"address_hash"},
	}, [][]any{{"abc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "scraper_dedup_hashes",
		Columns: []string{"address_hash", "price"},
	}, [][]any{{"abc", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_scraper_dedup_hashes"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_scraper_dedup_hashes"}, hashUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "scraper_dedup_hashes"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"h1", 1.0, "MLS", nil}, {"h2", 2.0, "MLS", nil}}
	n, err := BulkUpsert(context.Background(), mock, hashUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_scraper_dedup_hashes"}, hashUpsert.Columns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, hashUpsert, [][]any{{"h1", 1.0, "MLS", nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for scraper_dedup_hashes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "scraper_dedup_hashes" ("address_hash", "price", "source", "seen_at") `+
			`SELECT "address_hash", "price", "source", "seen_at" FROM "_tmp_upsert_scraper_dedup_hashes" `+
			`ON CONFLICT ("address_hash") DO UPDATE SET "price" = EXCLUDED."price", "source" = EXCLUDED."source", "seen_at" = EXCLUDED."seen_at"`,
		hashUpsert.upsertSQL())

	keysOnly := UpsertConfig{Table: "public.scraper_config", Columns: []string{"key"}, ConflictKeys: []string{"key"}}
	assert.Equal(t,
		`INSERT INTO "public"."scraper_config" ("key") SELECT "key" FROM "_tmp_upsert_public_scraper_config" ON CONFLICT ("key") DO NOTHING`,
		keysOnly.upsertSQL())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.scraper_audit_logs", `"public"."scraper_audit_logs"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
