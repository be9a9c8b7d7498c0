// Package catalog defines the core listing and import-job types shared
// across subsystems.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an import job.
type JobStatus string

// Job status values persisted in the job store. Transitions are monotonic:
// pending -> running -> {succeeded, failed}.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is an end state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}

// DealType classifies how a listing is offered.
type DealType string

// Supported deal types.
const (
	DealSale DealType = "sale"
	DealRent DealType = "rent"
)

// PropertyType classifies the kind of property.
type PropertyType string

// Supported property types.
const (
	PropertyHouse     PropertyType = "house"
	PropertyApartment PropertyType = "apartment"
	PropertyCondo     PropertyType = "condo"
	PropertyTownhouse PropertyType = "townhouse"
	PropertyLand      PropertyType = "land"
	PropertyOther     PropertyType = "other"
)

// SourceDescriptor identifies where an import job reads records from.
// Exactly one of SingleURL or CSVFile must be set.
type SourceDescriptor struct {
	SingleURL string `json:"single_url,omitempty"`
	CSVFile   string `json:"csv_file,omitempty"`
}

// Validate enforces the single_url XOR csv_file contract.
func (s SourceDescriptor) Validate() error {
	hasURL := strings.TrimSpace(s.SingleURL) != ""
	hasCSV := strings.TrimSpace(s.CSVFile) != ""
	switch {
	case !hasURL && !hasCSV:
		return fmt.Errorf("source requires single_url or csv_file")
	case hasURL && hasCSV:
		return fmt.Errorf("source accepts single_url or csv_file, not both")
	default:
		return nil
	}
}

// JobOptions captures per-job configuration knobs requested by the operator.
type JobOptions struct {
	Delay       time.Duration `json:"delay"`
	Debug       bool          `json:"debug"`
	SkipGeocode bool          `json:"skip_geocode"`
	Headed      bool          `json:"headed"`
	ImagesMax   int           `json:"images_max"`
	NoImages    bool          `json:"no_images"`
	CookieFile  string        `json:"cookie_file,omitempty"`
}

// JobCounters tracks per-record outcome stats for a job.
type JobCounters struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	SkippedInvalid int `json:"skipped_invalid"`
	GeocodeFailed  int `json:"geocode_failed"`
	ImagesStored   int `json:"images_stored"`
	ImagesFailed   int `json:"images_failed"`
}

// RecordOutcome labels a single record's result in the job log.
type RecordOutcome string

// Outcomes appended to the job log as records are processed.
const (
	OutcomeCreated        RecordOutcome = "created"
	OutcomeUpdated        RecordOutcome = "updated"
	OutcomeSkippedInvalid RecordOutcome = "skipped_invalid"
	OutcomeGeocodeFailed  RecordOutcome = "geocode_failed"
	OutcomeImageFailed    RecordOutcome = "image_failed"
	OutcomeFatal          RecordOutcome = "fatal"
)

// LogEntry is one append-only line in a job's log.
type LogEntry struct {
	At      time.Time     `json:"at"`
	Outcome RecordOutcome `json:"outcome"`
	Message string        `json:"message"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s [%s] %s", e.At.UTC().Format(time.RFC3339), e.Outcome, e.Message)
}

// ImportJob represents one invocation of the import pipeline. Jobs are
// created by an operator, mutated only by the runner, and retained as an
// audit trail.
type ImportJob struct {
	ID         string           `json:"id"`
	RealtorID  int64            `json:"realtor_id"`
	Source     SourceDescriptor `json:"source"`
	Options    JobOptions       `json:"options"`
	Status     JobStatus        `json:"status"`
	Log        []LogEntry       `json:"log"`
	Counters   JobCounters      `json:"counters"`
	CreatedBy  string           `json:"created_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Listing is the canonical real-estate record owned by the catalog.
type Listing struct {
	ID           int64        `json:"id"`
	RealtorID    int64        `json:"realtor_id"`
	ExternalID   string       `json:"external_id,omitempty"`
	Title        string       `json:"title"`
	Address      string       `json:"address"`
	City         string       `json:"city"`
	State        string       `json:"state"`
	Zipcode      string       `json:"zipcode"`
	Latitude     *float64     `json:"latitude,omitempty"`
	Longitude    *float64     `json:"longitude,omitempty"`
	Price        int64        `json:"price"`
	Bedrooms     int          `json:"bedrooms"`
	Bathrooms    float64      `json:"bathrooms"`
	Garage       int          `json:"garage"`
	Sqft         int          `json:"sqft"`
	LotSize      float64      `json:"lot_size"`
	Description  string       `json:"description"`
	DealType     DealType     `json:"deal_type"`
	PropertyType PropertyType `json:"property_type"`
	IsPublished  bool         `json:"is_published"`
	ListDate     time.Time    `json:"list_date"`
	OriginalURL  string       `json:"original_url,omitempty"`
}

// SetCoordinates assigns the latitude/longitude pair atomically. The pair is
// always set together so a listing never carries a lone coordinate.
func (l *Listing) SetCoordinates(lat, lon float64) {
	l.Latitude = &lat
	l.Longitude = &lon
}

// HasCoordinates reports whether both coordinates are present.
func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// ListingImage is one photo attached to a listing. Ordering is stable and
// drives gallery display; at most one image per listing is primary.
// SourceURL records where the photo was fetched from so a rerun over the
// same source can recognize photos it has already stored.
type ListingImage struct {
	ID        int64  `json:"id"`
	ListingID int64  `json:"listing_id"`
	BlobURI   string `json:"blob_uri"`
	SourceURL string `json:"source_url"`
	Order     int    `json:"order"`
	IsPrimary bool   `json:"is_primary"`
	IsVisible bool   `json:"is_visible"`
}

// RawRecord is the adapter-neutral shape handed to the normalizer: a bag of
// raw field values keyed by canonical field name. Nothing downstream of the
// normalizer sees source-specific shapes.
type RawRecord struct {
	Source string
	Fields map[string]string
}

// Get returns the first non-empty value among the named fields.
func (r RawRecord) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// UpsertResult reports what the catalog did with a normalized record.
type UpsertResult struct {
	Listing Listing
	Created bool
}

// AddressParts is the input to a geocoder lookup.
type AddressParts struct {
	Address string
	City    string
	State   string
	Zipcode string
}

// Combined joins the non-empty parts into a single query string.
func (p AddressParts) Combined() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Address, p.City, p.State, p.Zipcode} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Empty reports whether there is nothing to geocode.
func (p AddressParts) Empty() bool {
	return p.Combined() == ""
}

// Point is a resolved coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

// ListingFilter captures the filter-by-field queries exposed to the read-side
// collaborators (search, map, rendering).
type ListingFilter struct {
	RealtorID     int64
	City          string
	State         string
	MaxBedrooms   int
	MaxPrice      int64
	PublishedOnly bool
	WithCoords    bool
}
