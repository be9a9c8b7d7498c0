// Package images downloads listing photos and attaches them to the catalog.
package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/coralcity/listing-importer/internal/catalog"
	"github.com/coralcity/listing-importer/internal/metrics"
)

const (
	defaultImagesMax = 10
	defaultTimeout   = 15 * time.Second

	// maxImageBytes caps a single download so a bad source cannot exhaust
	// memory or blob storage.
	maxImageBytes = 20 << 20
)

// Config captures the parameters for the image ingestor.
type Config struct {
	// ImagesMax is the default per-listing cap applied when a job does not
	// set its own.
	ImagesMax int
	// UserAgent is sent on every image request.
	UserAgent string
	// Timeout bounds a single image download.
	Timeout time.Duration
}

// Result summarizes one listing's image ingestion. Individual download or
// store failures do not abort the batch; they are collected in Errors.
type Result struct {
	Stored int
	Failed int
	Errors []error
}

// Ingestor fetches photos over HTTP, writes them to the blob store, and
// records ListingImage rows in order.
type Ingestor struct {
	images catalog.ImageStore
	blobs  catalog.BlobStore
	client *http.Client
	cfg    Config
}

// New creates an image ingestor.
func New(images catalog.ImageStore, blobs catalog.BlobStore, cfg Config) *Ingestor {
	if cfg.ImagesMax <= 0 {
		cfg.ImagesMax = defaultImagesMax
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Ingestor{
		images: images,
		blobs:  blobs,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Ingest downloads up to the configured maximum of urls for the listing,
// preserving source order. A url already recorded for the listing is skipped,
// so re-running a job over an unchanged source leaves the gallery as it was.
// The first image stored becomes primary when the listing has none. A failed
// url is skipped and counted; only store-level errors that indicate a broken
// catalog abort early.
func (n *Ingestor) Ingest(ctx context.Context, listing catalog.Listing, urls []string, opts catalog.JobOptions) (Result, error) {
	var res Result
	if opts.NoImages || len(urls) == 0 {
		return res, nil
	}

	limit := n.cfg.ImagesMax
	if opts.ImagesMax > 0 {
		limit = opts.ImagesMax
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}

	existing, err := n.images.ListImages(ctx, listing.ID)
	if err != nil {
		return res, fmt.Errorf("list images: %w", err)
	}
	stored := make(map[string]struct{}, len(existing))
	for _, img := range existing {
		if img.SourceURL != "" {
			stored[img.SourceURL] = struct{}{}
		}
	}
	hasPrimary, err := n.images.HasPrimary(ctx, listing.ID)
	if err != nil {
		return res, fmt.Errorf("check primary: %w", err)
	}

	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := stored[url]; ok {
			continue
		}

		data, contentType, err := n.fetch(ctx, url)
		if err != nil {
			metrics.ObserveImageFetch("error")
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("fetch %s: %w", url, err))
			continue
		}

		objectPath := n.objectPath(listing, i, url, contentType)
		uri, err := n.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(data))
		if err != nil {
			metrics.ObserveImageFetch("error")
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("store %s: %w", url, err))
			continue
		}

		img := catalog.ListingImage{
			ListingID: listing.ID,
			BlobURI:   uri,
			SourceURL: url,
			Order:     i,
			IsPrimary: !hasPrimary && res.Stored == 0,
			IsVisible: true,
		}
		if _, err := n.images.AddImage(ctx, img); err != nil {
			return res, fmt.Errorf("add image row: %w", err)
		}
		metrics.ObserveImageFetch("ok")
		res.Stored++
	}
	return res, nil
}

func (n *Ingestor) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if n.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", n.cfg.UserAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// objectPath keys blobs by the url's position in the source gallery, so the
// same source produces the same object keys on every run.
func (n *Ingestor) objectPath(listing catalog.Listing, order int, url, contentType string) string {
	key := listing.ExternalID
	if key == "" {
		key = fmt.Sprintf("%d", listing.ID)
	}
	return fmt.Sprintf("photos/%d/%s/%d%s", listing.RealtorID, key, order, extensionFor(url, contentType))
}

func extensionFor(url, contentType string) string {
	if ext := path.Ext(strings.SplitN(url, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
