// Package metrics exposes Prometheus collectors for the import service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	importJobsTotal        *prometheus.CounterVec
	importRecordsTotal     *prometheus.CounterVec
	geocodeRequestsTotal   *prometheus.CounterVec
	geocodeWaitSeconds     prometheus.Histogram
	imageFetchesTotal      *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec
	activeJobs             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		importJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_jobs_total",
				Help: "Total number of import jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		importRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		geocodeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_geocode_requests_total",
				Help: "Total geocoding lookups, labeled by result (ok, miss, error).",
			},
			[]string{"result"},
		)

		geocodeWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importer_geocode_rate_wait_seconds",
				Help:    "Histogram of waits imposed by the geocoder rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		)

		imageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "importer_image_fetches_total",
				Help: "Total photo downloads attempted, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "importer_active_jobs",
				Help: "Number of import jobs currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	importJobsTotal.WithLabelValues(status).Inc()
}

// ObserveRecord increments the record counter for the given outcome.
func ObserveRecord(outcome string) {
	importRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGeocode increments the geocode counter for the given result.
func ObserveGeocode(result string) {
	geocodeRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveGeocodeWait records how long the geocoder rate limiter blocked.
func ObserveGeocodeWait(d time.Duration) {
	geocodeWaitSeconds.Observe(d.Seconds())
}

// ObserveImageFetch increments the image fetch counter for the given result.
func ObserveImageFetch(result string) {
	imageFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveJobs increments the running jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the running jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}
