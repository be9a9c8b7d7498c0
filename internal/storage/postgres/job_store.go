package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// JobStore persists import jobs in the import_jobs table and their log
// entries in import_job_logs.
type JobStore struct {
	pool dbPool
}

// NewJobStore constructs a store from an existing pool.
func NewJobStore(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new pending job.
func (s *JobStore) CreateJob(ctx context.Context, job catalog.ImportJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	sourceJSON, err := json.Marshal(job.Source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO import_jobs (id, realtor_id, source, options, status, counters, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.RealtorID, sourceJSON, optionsJSON, string(job.Status), countersJSON, job.CreatedBy, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job and its log entries.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (catalog.ImportJob, error) {
	var (
		job          catalog.ImportJob
		sourceJSON   []byte
		optionsJSON  []byte
		countersJSON []byte
		status       string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, realtor_id, source, options, status, counters, created_by, created_at, started_at, finished_at
FROM import_jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &job.RealtorID, &sourceJSON, &optionsJSON, &status,
		&countersJSON, &job.CreatedBy, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ImportJob{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.ImportJob{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = catalog.JobStatus(status)
	if err := json.Unmarshal(sourceJSON, &job.Source); err != nil {
		return catalog.ImportJob{}, fmt.Errorf("unmarshal source: %w", err)
	}
	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return catalog.ImportJob{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
		return catalog.ImportJob{}, fmt.Errorf("unmarshal counters: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT at, outcome, message FROM import_job_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return catalog.ImportJob{}, fmt.Errorf("select job log: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry catalog.LogEntry
		var outcome string
		if err := rows.Scan(&entry.At, &outcome, &entry.Message); err != nil {
			return catalog.ImportJob{}, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Outcome = catalog.RecordOutcome(outcome)
		job.Log = append(job.Log, entry)
	}
	if err := rows.Err(); err != nil {
		return catalog.ImportJob{}, fmt.Errorf("iterate job log: %w", err)
	}
	return job, nil
}

// MarkRunning performs a conditional update so only one caller wins when a
// job is started concurrently.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE import_jobs SET status = $2, started_at = $3
WHERE id = $1 AND status = $4`,
		jobID, string(catalog.JobStatusRunning), at, string(catalog.JobStatusPending))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM import_jobs WHERE id = $1`, jobID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check job status: %w", err)
		}
		return catalog.ErrJobNotPending
	}
	return nil
}

// AppendLog appends one entry and snapshots the counters.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, entry catalog.LogEntry, counters catalog.JobCounters) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO import_job_logs (job_id, at, outcome, message)
VALUES ($1, $2, $3, $4)`,
		jobID, entry.At, string(entry.Outcome), entry.Message); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
UPDATE import_jobs SET counters = $2 WHERE id = $1`, jobID, countersJSON); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	return nil
}

// FinishJob transitions a non-terminal job to a terminal status.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, status catalog.JobStatus, counters catalog.JobCounters, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE import_jobs SET status = $2, counters = $3, finished_at = $4
WHERE id = $1 AND status IN ($5, $6)`,
		jobID, string(status), countersJSON, at,
		string(catalog.JobStatusPending), string(catalog.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is missing or already finished", jobID)
	}
	return nil
}
