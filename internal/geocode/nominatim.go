// Package geocode wraps the Nominatim address lookup service. The provider
// is treated as untrusted and rate-limited: lookups that time out or error
// leave the listing without coordinates rather than failing the record.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/metrics"
)

const defaultBaseURL = "https://nominatim.openstreetmap.org"

// Config controls the Nominatim client.
type Config struct {
	// BaseURL overrides the provider endpoint (tests point it at a local
	// server).
	BaseURL string
	// UserAgent is required by the Nominatim usage policy.
	UserAgent string
	// MinInterval is the minimum delay between successive lookups within
	// one client. The provider policy asks for at most one request per
	// second, which is the default.
	MinInterval time.Duration
	Timeout     time.Duration
}

// Client implements catalog.Geocoder against a Nominatim-compatible API.
type Client struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	http      *http.Client
	logger    *zap.Logger
}

// New creates a Client. The logger may be nil.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "coralcity-importer/1.0"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve looks up the combined address. ok=false with a nil error means the
// provider had no match; transport and decode failures are returned as errors
// and counted, but callers treat them as "absent" per the pipeline contract.
func (c *Client) Resolve(ctx context.Context, parts catalog.AddressParts) (catalog.Point, bool, error) {
	if parts.Empty() {
		return catalog.Point{}, false, nil
	}

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return catalog.Point{}, false, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveGeocodeWait(waited)
	}

	q := url.Values{}
	q.Set("q", parts.Combined())
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return catalog.Point{}, false, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveGeocode("error")
		return catalog.Point{}, false, &catalog.TransientError{Op: "geocode request", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveGeocode("error")
		return catalog.Point{}, false, &catalog.TransientError{
			Op:  "geocode request",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		metrics.ObserveGeocode("error")
		return catalog.Point{}, false, &catalog.TransientError{Op: "decode geocode response", Err: err}
	}
	if len(results) == 0 {
		metrics.ObserveGeocode("miss")
		c.logger.Debug("geocode miss", zap.String("query", parts.Combined()))
		return catalog.Point{}, false, nil
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		metrics.ObserveGeocode("error")
		return catalog.Point{}, false, &catalog.TransientError{
			Op:  "parse geocode coordinates",
			Err: fmt.Errorf("lat=%q lon=%q", results[0].Lat, results[0].Lon),
		}
	}

	metrics.ObserveGeocode("ok")
	return catalog.Point{Latitude: lat, Longitude: lon}, true, nil
}
