package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/source/csvfile"
	"github.com/coralcity/listing-importer/internal/source/scrape"
)

// SourceConfig captures the settings shared by the source adapters.
type SourceConfig struct {
	// UserAgent identifies the importer on outbound scrape requests.
	UserAgent string
	// FetchTimeout bounds a single page fetch.
	FetchTimeout time.Duration
	// UploadDir restricts csv_file paths for API-created jobs. Empty
	// disables the check (CLI and test use).
	UploadDir string
}

// NewSourceFactory returns the default factory: CSV files open a streaming
// reader; single URLs fetch through colly, or through a Chrome session when
// the job asks for a headed browser.
func NewSourceFactory(cfg SourceConfig, logger *zap.Logger) SourceFactory {
	return func(_ context.Context, job catalog.ImportJob) (catalog.SourceAdapter, error) {
		if err := job.Source.Validate(); err != nil {
			return nil, err
		}

		if job.Source.CSVFile != "" {
			if cfg.UploadDir != "" && !underDir(cfg.UploadDir, job.Source.CSVFile) {
				return nil, fmt.Errorf("csv file must live under %s", cfg.UploadDir)
			}
			return csvfile.Open(job.Source.CSVFile)
		}

		var (
			fetcher scrape.PageFetcher
			err     error
		)
		if job.Options.Headed {
			fetcher, err = scrape.NewChromedpFetcher(scrape.ChromedpConfig{
				Headed:            true,
				UserAgent:         cfg.UserAgent,
				NavigationTimeout: cfg.FetchTimeout,
				CookieFile:        job.Options.CookieFile,
			})
		} else {
			fetcher, err = scrape.NewCollyFetcher(scrape.CollyConfig{
				UserAgent:  cfg.UserAgent,
				Timeout:    cfg.FetchTimeout,
				CookieFile: job.Options.CookieFile,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("build page fetcher: %w", err)
		}
		return scrape.New(job.Source.SingleURL, fetcher, scrape.DefaultSelectors(), logger), nil
	}
}

// underDir reports whether path resolves to a location inside dir. Cleaning
// both sides rejects sibling directories that merely share a name prefix and
// paths that climb out through ".." segments.
func underDir(dir, path string) bool {
	cleanDir := filepath.Clean(dir)
	return strings.HasPrefix(filepath.Clean(path), cleanDir+string(filepath.Separator))
}
