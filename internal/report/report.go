// Package report fans per-record outcomes out to the job log, the service
// log, and metrics.
package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/metrics"
)

// Sink consumes one outcome event. Sinks are called synchronously and in
// registration order so the persisted log stays causally ordered with the
// service log.
type Sink interface {
	Record(ctx context.Context, jobID string, entry catalog.LogEntry, counters catalog.JobCounters) error
}

// Recorder distributes outcome events to its sinks. A sink failure is
// returned to the caller only when the store sink fails; observability sinks
// never fail a job.
type Recorder struct {
	store Sink
	extra []Sink
}

// NewRecorder creates a recorder. The store sink is required; extra sinks are
// best-effort.
func NewRecorder(store Sink, extra ...Sink) *Recorder {
	return &Recorder{store: store, extra: extra}
}

// Record appends the entry to the job store and then notifies the remaining
// sinks.
func (r *Recorder) Record(ctx context.Context, jobID string, entry catalog.LogEntry, counters catalog.JobCounters) error {
	if err := r.store.Record(ctx, jobID, entry, counters); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	for _, sink := range r.extra {
		_ = sink.Record(ctx, jobID, entry, counters)
	}
	return nil
}

// StoreSink persists entries through a JobStore.
type StoreSink struct {
	jobs catalog.JobStore
}

// NewStoreSink wraps a job store as a sink.
func NewStoreSink(jobs catalog.JobStore) *StoreSink {
	return &StoreSink{jobs: jobs}
}

// Record appends the entry and counters snapshot.
func (s *StoreSink) Record(ctx context.Context, jobID string, entry catalog.LogEntry, counters catalog.JobCounters) error {
	return s.jobs.AppendLog(ctx, jobID, entry, counters)
}

// LogSink mirrors outcome events into the service log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps a zap logger as a sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record logs one outcome line.
func (s *LogSink) Record(_ context.Context, jobID string, entry catalog.LogEntry, _ catalog.JobCounters) error {
	s.logger.Info("record outcome",
		zap.String("job_id", jobID),
		zap.String("outcome", string(entry.Outcome)),
		zap.String("message", entry.Message),
	)
	return nil
}

// MetricsSink counts outcomes.
type MetricsSink struct{}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Record increments the per-outcome counter.
func (s *MetricsSink) Record(_ context.Context, _ string, entry catalog.LogEntry, _ catalog.JobCounters) error {
	metrics.ObserveRecord(string(entry.Outcome))
	return nil
}
