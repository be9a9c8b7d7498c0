package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/coralcity/listing-importer/internal/catalog"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1770000000, 0).UTC()
	job := catalog.ImportJob{
		ID:        "job-1",
		RealtorID: 7,
		Source:    catalog.SourceDescriptor{CSVFile: "/tmp/listings.csv"},
		Status:    catalog.JobStatusPending,
		CreatedBy: "ops",
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO import_jobs").
		WithArgs(job.ID, job.RealtorID, pgxmock.AnyArg(), pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), "ops", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningWinsWhenPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE import_jobs SET status").
		WithArgs("job-1", "running", now, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRunning(context.Background(), "job-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningLosesWhenAlreadyRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE import_jobs SET status").
		WithArgs("job-1", "running", now, "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("running"))

	err = store.MarkRunning(context.Background(), "job-1", now)
	require.ErrorIs(t, err, catalog.ErrJobNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLogInsertsEntryAndCounters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Now().UTC()
	entry := catalog.LogEntry{At: now, Outcome: catalog.OutcomeCreated, Message: "EXT-1 created"}

	mock.ExpectExec("INSERT INTO import_job_logs").
		WithArgs("job-1", now, "created", "EXT-1 created").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE import_jobs SET counters").
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.AppendLog(context.Background(), "job-1", entry, catalog.JobCounters{Created: 1}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRejectsAlreadyFinished(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE import_jobs SET status").
		WithArgs("job-1", "succeeded", pgxmock.AnyArg(), now, "pending", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.FinishJob(context.Background(), "job-1", catalog.JobStatusSucceeded, catalog.JobCounters{}, now)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobRequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	err = store.FinishJob(context.Background(), "job-1", catalog.JobStatusRunning, catalog.JobCounters{}, time.Now())
	require.Error(t, err)
}
