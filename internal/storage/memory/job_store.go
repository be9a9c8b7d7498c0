// Package memory implements in-memory stores used by tests and single-node
// deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// JobStore keeps import jobs in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]catalog.ImportJob
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]catalog.ImportJob)}
}

// CreateJob inserts a new job. Duplicate IDs are rejected.
func (s *JobStore) CreateJob(_ context.Context, job catalog.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob returns a copy of the stored job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (catalog.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ImportJob{}, catalog.ErrNotFound
	}
	return cloneJob(job), nil
}

// MarkRunning transitions pending -> running. Any other current state returns
// ErrJobNotPending so concurrent starts collapse to a single run.
func (s *JobStore) MarkRunning(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrNotFound
	}
	if job.Status != catalog.JobStatusPending {
		return catalog.ErrJobNotPending
	}
	job.Status = catalog.JobStatusRunning
	started := at
	job.StartedAt = &started
	s.jobs[jobID] = job
	return nil
}

// AppendLog appends one entry and snapshots the counters.
func (s *JobStore) AppendLog(_ context.Context, jobID string, entry catalog.LogEntry, counters catalog.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrNotFound
	}
	job.Log = append(job.Log, entry)
	job.Counters = counters
	s.jobs[jobID] = job
	return nil
}

// FinishJob transitions running -> terminal. Terminal jobs are never
// re-finished, and FinishedAt is set exactly once.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status catalog.JobStatus, counters catalog.JobCounters, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	job.Status = status
	job.Counters = counters
	finished := at
	job.FinishedAt = &finished
	s.jobs[jobID] = job
	return nil
}

func cloneJob(job catalog.ImportJob) catalog.ImportJob {
	out := job
	out.Log = append([]catalog.LogEntry(nil), job.Log...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
