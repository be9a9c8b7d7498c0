// Package api exposes the HTTP interface for the import service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/config"
	"github.com/coralcity/listing-importer/internal/metrics"
	"github.com/coralcity/listing-importer/internal/runner"
)

// maxUploadBytes caps a multipart CSV upload.
const maxUploadBytes = 64 << 20

// Server wires HTTP handlers to the runner and stores.
type Server struct {
	router   chi.Router
	jobs     catalog.JobStore
	listings catalog.ListingStore
	runner   *runner.Runner
	idGen    catalog.IDGenerator
	clock    catalog.Clock
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs catalog.JobStore,
	listings catalog.ListingStore,
	jobRunner *runner.Runner,
	idGen catalog.IDGenerator,
	clock catalog.Clock,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		jobs:     jobs,
		listings: listings,
		runner:   jobRunner,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", s.submitImport)
			r.Get("/{job_id}", s.getImport)
		})
		r.Get("/listings", s.searchListings)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitImport accepts either a JSON body describing the source or a
// multipart form carrying a CSV file, creates a pending job, and starts it.
func (s *Server) submitImport(w http.ResponseWriter, r *http.Request) {
	var (
		req importRequest
		err error
	)
	if isMultipart(r) {
		req, err = s.parseMultipartImport(r)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.toImportJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	if err := s.runner.Start(r.Context(), job.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start job: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(catalog.JobStatusRunning)})
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) searchListings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListingFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	listings, err := s.listings.Search(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search listings")
		return
	}
	if listings == nil {
		listings = []catalog.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings, "count": len(listings)})
}

func (s *Server) toImportJob(req importRequest) (catalog.ImportJob, error) {
	if req.RealtorID <= 0 {
		return catalog.ImportJob{}, errors.New("realtor_id is required")
	}
	source := catalog.SourceDescriptor{SingleURL: req.Source.SingleURL, CSVFile: req.Source.CSVFile}
	if err := source.Validate(); err != nil {
		return catalog.ImportJob{}, err
	}

	delaySeconds := valueOrDefault(req.Options.DelaySeconds, s.cfg.Importer.DelaySeconds)
	if delaySeconds < 0 {
		return catalog.ImportJob{}, errors.New("delay_seconds must be >= 0")
	}
	imagesMax := valueOrDefault(req.Options.ImagesMax, s.cfg.Importer.ImagesMaxDefault)
	if imagesMax <= 0 {
		return catalog.ImportJob{}, errors.New("images_max must be > 0")
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		return catalog.ImportJob{}, fmt.Errorf("generate job id: %w", err)
	}
	return catalog.ImportJob{
		ID:        jobID,
		RealtorID: req.RealtorID,
		Source:    source,
		Options: catalog.JobOptions{
			Delay:       time.Duration(delaySeconds * float64(time.Second)),
			Debug:       valueOrDefault(req.Options.Debug, false),
			SkipGeocode: valueOrDefault(req.Options.SkipGeocode, s.cfg.Geocode.SkipByDefault),
			Headed:      valueOrDefault(req.Options.Headed, false),
			ImagesMax:   imagesMax,
			NoImages:    valueOrDefault(req.Options.NoImages, false),
			CookieFile:  req.Options.CookieFile,
		},
		Status:    catalog.JobStatusPending,
		CreatedBy: req.CreatedBy,
		CreatedAt: s.clock.Now(),
	}, nil
}

// parseMultipartImport spools the uploaded CSV into the upload directory and
// rewrites the request as a csv_file source.
func (s *Server) parseMultipartImport(r *http.Request) (importRequest, error) {
	var req importRequest
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, fmt.Errorf("parse multipart form: %w", err)
	}

	realtorID, err := strconv.ParseInt(r.FormValue("realtor_id"), 10, 64)
	if err != nil {
		return req, errors.New("realtor_id is required")
	}
	req.RealtorID = realtorID
	req.CreatedBy = r.FormValue("created_by")

	if v := r.FormValue("options"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Options); err != nil {
			return req, fmt.Errorf("parse options: %w", err)
		}
	}

	file, header, err := r.FormFile("csv")
	if err != nil {
		return req, errors.New("csv file field is required")
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.Importer.UploadDir, 0o750); err != nil {
		return req, fmt.Errorf("create upload dir: %w", err)
	}
	name, err := s.idGen.NewID()
	if err != nil {
		return req, fmt.Errorf("generate upload name: %w", err)
	}
	dest := filepath.Join(s.cfg.Importer.UploadDir, name+".csv")
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return req, fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return req, fmt.Errorf("spool upload %s: %w", header.Filename, err)
	}

	req.Source.CSVFile = dest
	return req, nil
}

func parseListingFilter(r *http.Request) (catalog.ListingFilter, error) {
	var filter catalog.ListingFilter
	q := r.URL.Query()
	filter.City = q.Get("city")
	filter.State = q.Get("state")
	if v := q.Get("realtor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, errors.New("realtor_id must be an integer")
		}
		filter.RealtorID = id
	}
	if v := q.Get("max_bedrooms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("max_bedrooms must be a positive integer")
		}
		filter.MaxBedrooms = n
	}
	if v := q.Get("max_price"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return filter, errors.New("max_price must be a positive integer")
		}
		filter.MaxPrice = n
	}
	filter.PublishedOnly = q.Get("published") == "true"
	filter.WithCoords = q.Get("with_coords") == "true"
	return filter, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

type importRequest struct {
	RealtorID int64  `json:"realtor_id"`
	CreatedBy string `json:"created_by"`
	Source    struct {
		SingleURL string `json:"single_url"`
		CSVFile   string `json:"csv_file"`
	} `json:"source"`
	Options importOptions `json:"options"`
}

type importOptions struct {
	// DelaySeconds accepts fractional seconds for sub-second throttles.
	DelaySeconds *float64 `json:"delay_seconds"`
	Debug        *bool    `json:"debug"`
	SkipGeocode  *bool    `json:"skip_geocode"`
	Headed       *bool    `json:"headed"`
	ImagesMax    *int     `json:"images_max"`
	NoImages     *bool    `json:"no_images"`
	CookieFile   string   `json:"cookie_file"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
