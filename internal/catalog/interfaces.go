package catalog

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrEndOfSource is returned by SourceAdapter.Next once the sequence is
// exhausted. The sequence is finite and non-restartable.
var ErrEndOfSource = errors.New("end of source")

// ErrJobNotPending is returned by JobStore.MarkRunning when the job has
// already left the pending state (single-flight guarantee).
var ErrJobNotPending = errors.New("job is not pending")

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// JobStore persists import jobs, their logs, and counters.
type JobStore interface {
	CreateJob(ctx context.Context, job ImportJob) error
	GetJob(ctx context.Context, jobID string) (ImportJob, error)
	// MarkRunning transitions pending -> running and records StartedAt.
	// It fails with ErrJobNotPending for any other current state, which is
	// what makes concurrent starts of the same job id collapse to one run.
	MarkRunning(ctx context.Context, jobID string, at time.Time) error
	// AppendLog appends one entry and stores the counters snapshot so an
	// in-progress job is observable mid-run.
	AppendLog(ctx context.Context, jobID string, entry LogEntry, counters JobCounters) error
	// FinishJob transitions running -> status and records FinishedAt.
	// Terminal states are never re-entered.
	FinishJob(ctx context.Context, jobID string, status JobStatus, counters JobCounters, at time.Time) error
}

// ListingStore owns Listing rows. All pipeline writes go through Upsert.
type ListingStore interface {
	// Upsert deduplicates by (realtor, external_id) when the external id is
	// present, updating mutable fields in place; records without an external
	// id always insert. Existing non-null coordinates are never overwritten.
	Upsert(ctx context.Context, listing Listing) (UpsertResult, error)
	// SetCoordinates writes the pair atomically, only if currently null.
	SetCoordinates(ctx context.Context, listingID int64, point Point) error
	Search(ctx context.Context, filter ListingFilter) ([]Listing, error)
}

// ImageStore owns ListingImage rows.
type ImageStore interface {
	CountImages(ctx context.Context, listingID int64) (int, error)
	HasPrimary(ctx context.Context, listingID int64) (bool, error)
	// AddImage inserts a row; when img.IsPrimary is set, any previous primary
	// for the listing is cleared in the same operation.
	AddImage(ctx context.Context, img ListingImage) (int64, error)
	ListImages(ctx context.Context, listingID int64) ([]ListingImage, error)
}

// BlobStore writes raw artifacts (photos) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// SourceAdapter produces a lazy, finite sequence of raw records from one
// source. A per-record extraction failure is reported as *ValidationError
// and the caller may keep iterating; any other error is fatal for the job.
type SourceAdapter interface {
	Next(ctx context.Context) (RawRecord, error)
	Close() error
}

// Geocoder resolves address parts to coordinates. ok=false means the
// provider had no answer; transient provider failures surface as an error
// which the pipeline treats as non-fatal.
type Geocoder interface {
	Resolve(ctx context.Context, parts AddressParts) (point Point, ok bool, err error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
