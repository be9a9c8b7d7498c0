package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	blobmem "github.com/coralcity/listing-importer/internal/blob/memory"
	"github.com/coralcity/listing-importer/internal/catalog"
	clocksys "github.com/coralcity/listing-importer/internal/clock/system"
	"github.com/coralcity/listing-importer/internal/config"
	iduuid "github.com/coralcity/listing-importer/internal/id/uuid"
	"github.com/coralcity/listing-importer/internal/images"
	"github.com/coralcity/listing-importer/internal/metrics"
	pubmem "github.com/coralcity/listing-importer/internal/publisher/memory"
	"github.com/coralcity/listing-importer/internal/report"
	"github.com/coralcity/listing-importer/internal/runner"
	storemem "github.com/coralcity/listing-importer/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type testEnv struct {
	server   *Server
	jobs     *storemem.JobStore
	listings *storemem.ListingStore
	runner   *runner.Runner
	cfg      config.Config
}

type nullGeocoder struct{}

func (nullGeocoder) Resolve(context.Context, catalog.AddressParts) (catalog.Point, bool, error) {
	return catalog.Point{}, false, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Importer.UploadDir = t.TempDir()
	cfg.Importer.DelaySeconds = 0

	jobs := storemem.NewJobStore()
	listings := storemem.NewListingStore()
	imgs := storemem.NewImageStore()
	clock := clocksys.Clock{}
	logger := zap.NewNop()

	recorder := report.NewRecorder(report.NewStoreSink(jobs), report.NewMetricsSink())
	ingestor := images.New(imgs, blobmem.New(), images.Config{ImagesMax: cfg.Importer.ImagesMaxDefault})
	jobRunner := runner.New(
		jobs, listings, nullGeocoder{}, ingestor, recorder, pubmem.New(),
		runner.NewSourceFactory(runner.SourceConfig{}, logger), clock, logger,
		runner.Config{},
	)
	server := NewServer(jobs, listings, jobRunner, iduuid.Generator{}, clock, logger, cfg)
	return &testEnv{server: server, jobs: jobs, listings: listings, runner: jobRunner, cfg: cfg}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitForJobs(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.runner.Shutdown(ctx))
}

func writeTestCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.csv")
	content := "external_id,title,address,city,state,zipcode,price,bedrooms\n" +
		"EXT-1,Bungalow,12 Main St,Portland,OR,97201,\"$450,000\",3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestSubmitImportJSON(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{
		"realtor_id": 7,
		"source": {"csv_file": %q},
		"options": {"skip_geocode": true, "no_images": true, "delay_seconds": 0}
	}`, writeTestCSV(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])

	env.waitForJobs(t)

	job, err := env.jobs.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.Created)
}

func TestSubmitImportAcceptsFractionalDelay(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{
		"realtor_id": 7,
		"source": {"csv_file": %q},
		"options": {"skip_geocode": true, "no_images": true, "delay_seconds": 0.25}
	}`, writeTestCSV(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	env.waitForJobs(t)

	job, err := env.jobs.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, job.Options.Delay)
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
}

func TestSubmitImportRejectsAmbiguousSource(t *testing.T) {
	env := newTestEnv(t)
	body := `{"realtor_id": 7, "source": {"csv_file": "/tmp/a.csv", "single_url": "https://example.com"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not both")
}

func TestSubmitImportRequiresSource(t *testing.T) {
	env := newTestEnv(t)
	body := `{"realtor_id": 7, "source": {}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitImportRequiresRealtor(t *testing.T) {
	env := newTestEnv(t)
	body := `{"source": {"csv_file": "/tmp/a.csv"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "realtor_id")
}

func TestSubmitImportMultipartUpload(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("realtor_id", "7"))
	require.NoError(t, mw.WriteField("options", `{"skip_geocode": true, "no_images": true, "delay_seconds": 0}`))
	fw, err := mw.CreateFormFile("csv", "listings.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("external_id,title,address,city,state,zipcode,price,bedrooms\n" +
		"EXT-9,Loft,9 Oak Ave,Portland,OR,97202,\"$300,000\",2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	env.waitForJobs(t)

	job, err := env.jobs.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Counters.Created)
	require.True(t, strings.HasPrefix(job.Source.CSVFile, env.cfg.Importer.UploadDir))
}

func TestGetImportNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/imports/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetImportReturnsJobWithLog(t *testing.T) {
	env := newTestEnv(t)
	job := catalog.ImportJob{
		ID:        "job-1",
		RealtorID: 7,
		Source:    catalog.SourceDescriptor{CSVFile: "/tmp/a.csv"},
		Status:    catalog.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.jobs.CreateJob(context.Background(), job))
	entry := catalog.LogEntry{At: time.Now().UTC(), Outcome: catalog.OutcomeCreated, Message: "EXT-1 created"}
	require.NoError(t, env.jobs.AppendLog(context.Background(), "job-1", entry, catalog.JobCounters{Created: 1}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/imports/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "EXT-1 created")
	require.Contains(t, rec.Body.String(), `"created":1`)
}

func TestSearchListings(t *testing.T) {
	env := newTestEnv(t)
	listing := catalog.Listing{
		RealtorID: 7, ExternalID: "EXT-1", Title: "Bungalow",
		Address: "12 Main St", City: "Portland", State: "OR",
		Price: 450000, Bedrooms: 3, IsPublished: true,
		ListDate: time.Now().UTC(),
	}
	_, err := env.listings.Upsert(context.Background(), listing)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/listings?city=portland&max_price=500000&published=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/listings?max_price=100000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestSearchListingsRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/listings?max_price=cheap", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
