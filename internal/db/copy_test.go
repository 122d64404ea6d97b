package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rejectionColumns = []string{"id", "session_id", "record_index", "agent", "reason"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "scraper_rejection_logs", rejectionColumns, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"scraper_rejection_logs"}, rejectionColumns).WillReturnResult(2)

	rows := [][]any{{"a", "s", 0, "dedup", "dup"}, {"b", "s", 2, "relevance", "thin"}}
	n, err := CopyFrom(context.Background(), mock, "scraper_rejection_logs", rejectionColumns, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit", "scraper_rejection_logs"}, rejectionColumns).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "audit.scraper_rejection_logs", rejectionColumns, [][]any{{"a", "s", 0, "dedup", "dup"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"scraper_rejection_logs"}, rejectionColumns).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "scraper_rejection_logs", rejectionColumns, [][]any{{"a", "s", 0, "dedup", "dup"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO scraper_rejection_logs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
