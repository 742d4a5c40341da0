package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/beautydex/harvester/internal/harvest"
)

func TestStoreInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "job_summaries")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	summary := harvest.JobSummary{
		JobID:        "uuid-1",
		StartOffset:  40,
		PageCount:    20,
		ItemCount:    700,
		MatchedCount: 85,
		EndOffset:    59,
		Timestamp:    now,
		OutputDir:    "/var/harvest/job_3_20260826T120000",
	}

	mock.ExpectExec("INSERT INTO job_summaries").
		WithArgs(
			summary.JobID,
			summary.StartOffset,
			summary.PageCount,
			summary.ItemCount,
			summary.MatchedCount,
			summary.EndOffset,
			summary.OutputDir,
			summary.Timestamp,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Store(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRequiresJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	require.Error(t, store.Store(context.Background(), harvest.JobSummary{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSummaryStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSummaryStoreWithPool(mock, "job summaries; drop table")
	require.Error(t, err)
}
