package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	blobmem "github.com/coralcity/listing-importer/internal/blob/memory"
	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/images"
	"github.com/coralcity/listing-importer/internal/metrics"
	pubmem "github.com/coralcity/listing-importer/internal/publisher/memory"
	"github.com/coralcity/listing-importer/internal/report"
	storemem "github.com/coralcity/listing-importer/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	point catalog.Point
	ok    bool
	err   error
	panic bool
}

func (g *fakeGeocoder) Resolve(_ context.Context, _ catalog.AddressParts) (catalog.Point, bool, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.panic {
		panic("geocoder exploded")
	}
	return g.point, g.ok, g.err
}

func (g *fakeGeocoder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	jobs      *storemem.JobStore
	listings  *storemem.ListingStore
	imgs      *storemem.ImageStore
	blobs     *blobmem.BlobStore
	geocoder  *fakeGeocoder
	publisher *pubmem.Publisher
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:      storemem.NewJobStore(),
		listings:  storemem.NewListingStore(),
		imgs:      storemem.NewImageStore(),
		blobs:     blobmem.New(),
		geocoder:  &fakeGeocoder{point: catalog.Point{Latitude: 45.52, Longitude: -122.68}, ok: true},
		publisher: pubmem.New(),
	}
	recorder := report.NewRecorder(report.NewStoreSink(f.jobs), report.NewMetricsSink())
	ingestor := images.New(f.imgs, f.blobs, images.Config{})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	f.runner = New(
		f.jobs, f.listings, f.geocoder, ingestor, recorder, f.publisher,
		NewSourceFactory(SourceConfig{}, zap.NewNop()), clock, zap.NewNop(),
		Config{CompletionTopic: "import.finished"},
	)
	return f
}

func writeCSV(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(rows, "\n")+"\n"), 0o600))
	return path
}

func (f *fixture) startJob(t *testing.T, job catalog.ImportJob) catalog.ImportJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.jobs.CreateJob(ctx, job))
	require.NoError(t, f.runner.Start(ctx, job.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Shutdown(waitCtx))

	done, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, done.Status.IsTerminal())
	return done
}

func pendingJob(id string, source catalog.SourceDescriptor, opts catalog.JobOptions) catalog.ImportJob {
	return catalog.ImportJob{
		ID:        id,
		RealtorID: 7,
		Source:    source,
		Options:   opts,
		Status:    catalog.JobStatusPending,
		CreatedAt: time.Date(2026, 3, 1, 9, 59, 0, 0, time.UTC),
	}
}

func TestRunnerImportsCSV(t *testing.T) {
	f := newFixture(t)
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
		",,,,,,,",
		"EXT-2,Loft,9 Oak Ave,Portland,OR,97202,\"$300,000\",2",
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{SkipGeocode: true, NoImages: true}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Counters.Created)
	require.Equal(t, 0, job.Counters.Updated)
	require.Equal(t, 1, job.Counters.SkippedInvalid)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	require.Len(t, job.Log, 3)

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	require.Len(t, listings, 2)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "import.finished", msgs[0].Topic)
}

func TestRunnerRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)
	opts := catalog.JobOptions{SkipGeocode: true, NoImages: true}

	first := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, opts))
	require.Equal(t, 1, first.Counters.Created)

	second := f.startJob(t, pendingJob("job-2", catalog.SourceDescriptor{CSVFile: path}, opts))
	require.Equal(t, 0, second.Counters.Created)
	require.Equal(t, 1, second.Counters.Updated)

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	require.Len(t, listings, 1)
}

func TestRunnerStartIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)
	ctx := context.Background()
	job := pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{SkipGeocode: true, NoImages: true})
	require.NoError(t, f.jobs.CreateJob(ctx, job))

	require.NoError(t, f.runner.Start(ctx, "job-1"))
	require.ErrorIs(t, f.runner.Start(ctx, "job-1"), catalog.ErrJobNotPending)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Shutdown(waitCtx))
}

func TestRunnerGeocodesNewListings(t *testing.T) {
	f := newFixture(t)
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{NoImages: true}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, f.geocoder.callCount())

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{WithCoords: true})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, 45.52, *listings[0].Latitude)
}

func TestRunnerSkipGeocodeOption(t *testing.T) {
	f := newFixture(t)
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{SkipGeocode: true, NoImages: true}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Zero(t, f.geocoder.callCount())
}

func TestRunnerGeocodeFailureDegradesNotFails(t *testing.T) {
	f := newFixture(t)
	f.geocoder.ok = false
	f.geocoder.err = &catalog.TransientError{Op: "geocode", Err: fmt.Errorf("timeout")}
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{NoImages: true}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.Created)
	require.Equal(t, 1, job.Counters.GeocodeFailed)

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.False(t, listings[0].HasCoordinates())
}

func TestRunnerKeepsExistingCoordinatesOnRerun(t *testing.T) {
	f := newFixture(t)
	seed := catalog.Listing{RealtorID: 7, ExternalID: "EXT-1", Title: "Bungalow", Address: "12 Main St"}
	seed.SetCoordinates(1.5, 2.5)
	_, err := f.listings.Upsert(context.Background(), seed)
	require.NoError(t, err)

	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)
	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{NoImages: true}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.Updated)
	require.Zero(t, f.geocoder.callCount())

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, 1.5, *listings[0].Latitude)
	require.Equal(t, 2.5, *listings[0].Longitude)
}

func TestRunnerHonorsImagesMax(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d.jpg", srv.URL, i)
	}
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms,images",
		fmt.Sprintf("EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3,%s", strings.Join(urls, "|")),
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{SkipGeocode: true, ImagesMax: 2}))
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Counters.ImagesStored)
	require.Zero(t, job.Counters.ImagesFailed)

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	imgs, err := f.imgs.ListImages(context.Background(), listings[0].ID)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	require.True(t, imgs[0].IsPrimary)
	require.False(t, imgs[1].IsPrimary)
}

func TestRunnerRerunDoesNotDuplicateImages(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"}
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms,images",
		fmt.Sprintf("EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3,%s", strings.Join(urls, "|")),
	)
	opts := catalog.JobOptions{SkipGeocode: true}

	first := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, opts))
	require.Equal(t, catalog.JobStatusSucceeded, first.Status)
	require.Equal(t, 2, first.Counters.ImagesStored)

	second := f.startJob(t, pendingJob("job-2", catalog.SourceDescriptor{CSVFile: path}, opts))
	require.Equal(t, catalog.JobStatusSucceeded, second.Status)
	require.Zero(t, second.Counters.ImagesStored)
	require.Zero(t, second.Counters.ImagesFailed)

	listings, err := f.listings.Search(context.Background(), catalog.ListingFilter{RealtorID: 7})
	require.NoError(t, err)
	imgs, err := f.imgs.ListImages(context.Background(), listings[0].ID)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	require.True(t, imgs[0].IsPrimary)
	require.Equal(t, 2, f.blobs.Len())
}

func TestRunnerMissingSourceFailsJob(t *testing.T) {
	f := newFixture(t)
	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: "/nonexistent/listings.csv"}, catalog.JobOptions{}))
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.Log)
	require.Equal(t, catalog.OutcomeFatal, job.Log[len(job.Log)-1].Outcome)
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.geocoder.panic = true
	path := writeCSV(t,
		"external_id,title,address,city,state,zipcode,price,bedrooms",
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3",
	)

	job := f.startJob(t, pendingJob("job-1", catalog.SourceDescriptor{CSVFile: path}, catalog.JobOptions{NoImages: true}))
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.Equal(t, catalog.OutcomeFatal, job.Log[len(job.Log)-1].Outcome)
	require.Contains(t, job.Log[len(job.Log)-1].Message, "panic")
}

func TestRunnerStartUnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.runner.Start(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}
