// Package runner executes import jobs: it drains a source adapter through
// the normalizer, catalog, geocoder, and image ingestor, maintaining the
// job's log and counters as it goes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/images"
	"github.com/coralcity/listing-importer/internal/metrics"
	"github.com/coralcity/listing-importer/internal/normalize"
	"github.com/coralcity/listing-importer/internal/report"
)

// SourceFactory builds the adapter for a job's source descriptor.
type SourceFactory func(ctx context.Context, job catalog.ImportJob) (catalog.SourceAdapter, error)

// Config captures runner-level settings.
type Config struct {
	// CompletionTopic names the event published when a job reaches a
	// terminal state. Empty disables publishing.
	CompletionTopic string
}

// Runner starts and executes import jobs. One goroutine per running job;
// Shutdown waits for them.
type Runner struct {
	jobs      catalog.JobStore
	listings  catalog.ListingStore
	geocoder  catalog.Geocoder
	ingestor  *images.Ingestor
	recorder  *report.Recorder
	publisher catalog.Publisher
	sources   SourceFactory
	clock     catalog.Clock
	logger    *zap.Logger
	cfg       Config

	wg sync.WaitGroup
}

// New creates a runner.
func New(
	jobs catalog.JobStore,
	listings catalog.ListingStore,
	geocoder catalog.Geocoder,
	ingestor *images.Ingestor,
	recorder *report.Recorder,
	publisher catalog.Publisher,
	sources SourceFactory,
	clock catalog.Clock,
	logger *zap.Logger,
	cfg Config,
) *Runner {
	return &Runner{
		jobs:      jobs,
		listings:  listings,
		geocoder:  geocoder,
		ingestor:  ingestor,
		recorder:  recorder,
		publisher: publisher,
		sources:   sources,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start claims the job and launches its run in a goroutine. The pending ->
// running transition in the store is what guarantees a job executes at most
// once; a second Start for the same id returns ErrJobNotPending.
func (r *Runner) Start(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if err := r.jobs.MarkRunning(ctx, jobID, r.clock.Now()); err != nil {
		return err
	}
	job.Status = catalog.JobStatusRunning

	metrics.IncActiveJobs()
	r.wg.Add(1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		defer metrics.DecActiveJobs()
		r.run(runCtx, job)
	}()
	return nil
}

// Shutdown waits for running jobs to drain or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running: %w", ctx.Err())
	}
}

// run drives one job to a terminal state. A panic anywhere in the record
// loop is converted into a failed job instead of taking the process down.
func (r *Runner) run(ctx context.Context, job catalog.ImportJob) {
	counters := job.Counters
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", rec),
			)
			r.record(ctx, job.ID, catalog.OutcomeFatal, fmt.Sprintf("panic: %v", rec), counters)
			r.finish(ctx, job, catalog.JobStatusFailed, counters)
		}
	}()

	adapter, err := r.sources(ctx, job)
	if err != nil {
		r.record(ctx, job.ID, catalog.OutcomeFatal, fmt.Sprintf("open source: %v", err), counters)
		r.finish(ctx, job, catalog.JobStatusFailed, counters)
		return
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			r.logger.Warn("close source adapter", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	normalizer := normalize.New(job.RealtorID, r.clock)

	for i := 0; ; i++ {
		if i > 0 && job.Options.Delay > 0 {
			if err := sleep(ctx, job.Options.Delay); err != nil {
				r.record(ctx, job.ID, catalog.OutcomeFatal, fmt.Sprintf("job interrupted: %v", err), counters)
				r.finish(ctx, job, catalog.JobStatusFailed, counters)
				return
			}
		}

		raw, err := adapter.Next(ctx)
		if errors.Is(err, catalog.ErrEndOfSource) {
			break
		}
		if catalog.IsValidation(err) {
			counters.SkippedInvalid++
			r.record(ctx, job.ID, catalog.OutcomeSkippedInvalid, fmt.Sprintf("record %d: %v", i, err), counters)
			continue
		}
		if err != nil {
			r.record(ctx, job.ID, catalog.OutcomeFatal, fmt.Sprintf("read source: %v", err), counters)
			r.finish(ctx, job, catalog.JobStatusFailed, counters)
			return
		}

		if err := r.processRecord(ctx, job, normalizer, raw, &counters); err != nil {
			r.record(ctx, job.ID, catalog.OutcomeFatal, err.Error(), counters)
			r.finish(ctx, job, catalog.JobStatusFailed, counters)
			return
		}
	}

	r.finish(ctx, job, catalog.JobStatusSucceeded, counters)
}

// processRecord runs one raw record through normalize, upsert, geocode, and
// image ingestion. Failures past the upsert degrade that record's features
// but never abort the job; a broken catalog store does.
func (r *Runner) processRecord(ctx context.Context, job catalog.ImportJob, normalizer *normalize.Normalizer, raw catalog.RawRecord, counters *catalog.JobCounters) error {
	rec, err := normalizer.Normalize(raw)
	if catalog.IsValidation(err) {
		counters.SkippedInvalid++
		r.record(ctx, job.ID, catalog.OutcomeSkippedInvalid, err.Error(), *counters)
		return nil
	}
	if err != nil {
		counters.SkippedInvalid++
		r.record(ctx, job.ID, catalog.OutcomeSkippedInvalid, fmt.Sprintf("normalize: %v", err), *counters)
		return nil
	}

	res, err := r.listings.Upsert(ctx, rec.Listing)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", identity(rec.Listing), err)
	}
	listing := res.Listing

	if res.Created {
		counters.Created++
		r.record(ctx, job.ID, catalog.OutcomeCreated, fmt.Sprintf("%s created", identity(listing)), *counters)
	} else {
		counters.Updated++
		r.record(ctx, job.ID, catalog.OutcomeUpdated, fmt.Sprintf("%s updated", identity(listing)), *counters)
	}

	if !job.Options.SkipGeocode && !listing.HasCoordinates() {
		r.geocode(ctx, job, &listing, counters)
	}

	if ingest, err := r.ingestor.Ingest(ctx, listing, rec.ImageURLs, job.Options); err != nil {
		counters.ImagesFailed++
		r.record(ctx, job.ID, catalog.OutcomeImageFailed, fmt.Sprintf("%s: %v", identity(listing), err), *counters)
	} else {
		counters.ImagesStored += ingest.Stored
		counters.ImagesFailed += ingest.Failed
		for _, ingestErr := range ingest.Errors {
			r.record(ctx, job.ID, catalog.OutcomeImageFailed, fmt.Sprintf("%s: %v", identity(listing), ingestErr), *counters)
		}
	}
	return nil
}

// geocode resolves coordinates for a listing that has none. A provider miss
// leaves the pair absent silently; a provider failure is counted and logged
// but never retried within the job.
func (r *Runner) geocode(ctx context.Context, job catalog.ImportJob, listing *catalog.Listing, counters *catalog.JobCounters) {
	parts := catalog.AddressParts{
		Address: listing.Address,
		City:    listing.City,
		State:   listing.State,
		Zipcode: listing.Zipcode,
	}
	point, ok, err := r.geocoder.Resolve(ctx, parts)
	if err != nil {
		counters.GeocodeFailed++
		r.record(ctx, job.ID, catalog.OutcomeGeocodeFailed, fmt.Sprintf("%s: %v", identity(*listing), err), *counters)
		return
	}
	if !ok {
		return
	}
	if err := r.listings.SetCoordinates(ctx, listing.ID, point); err != nil {
		counters.GeocodeFailed++
		r.record(ctx, job.ID, catalog.OutcomeGeocodeFailed, fmt.Sprintf("%s: store coordinates: %v", identity(*listing), err), *counters)
		return
	}
	listing.SetCoordinates(point.Latitude, point.Longitude)
}

// finish moves the job to a terminal state and publishes the completion
// event.
func (r *Runner) finish(ctx context.Context, job catalog.ImportJob, status catalog.JobStatus, counters catalog.JobCounters) {
	now := r.clock.Now()
	if err := r.jobs.FinishJob(ctx, job.ID, status, counters, now); err != nil {
		r.logger.Error("finish job", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	r.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("created", counters.Created),
		zap.Int("updated", counters.Updated),
		zap.Int("skipped_invalid", counters.SkippedInvalid),
	)

	if r.publisher == nil || r.cfg.CompletionTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":      job.ID,
		"realtor_id":  job.RealtorID,
		"status":      string(status),
		"counters":    counters,
		"finished_at": now.UTC().Format(time.RFC3339),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.CompletionTopic, payload); err != nil {
		r.logger.Warn("publish completion event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (r *Runner) record(ctx context.Context, jobID string, outcome catalog.RecordOutcome, message string, counters catalog.JobCounters) {
	entry := catalog.LogEntry{At: r.clock.Now(), Outcome: outcome, Message: message}
	if err := r.recorder.Record(ctx, jobID, entry, counters); err != nil {
		r.logger.Error("record job outcome", zap.String("job_id", jobID), zap.Error(err))
	}
}

func identity(l catalog.Listing) string {
	if l.ExternalID != "" {
		return l.ExternalID
	}
	if l.Address != "" {
		return l.Address
	}
	return fmt.Sprintf("listing %d", l.ID)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
