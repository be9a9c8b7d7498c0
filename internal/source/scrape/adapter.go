// Package scrape implements the single-URL source adapter: it fetches one
// external page, extracts the listing blocks on it, and surfaces each block
// as a raw record.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// PageFetcher retrieves one fully rendered page. Implementations decide how:
// plain HTTP (colly) or a browser (chromedp) for sites that need JavaScript
// or bot-detection evasion.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) ([]byte, error)
	Close() error
}

// Selectors map page structure to raw fields. The defaults cover the markup
// the importer is pointed at in practice; per-site overrides come from
// configuration.
type Selectors struct {
	// Block matches one listing container.
	Block string
	// Fields maps a raw field name to a child selector within the block.
	Fields map[string]string
	// Image matches photo elements within the block (src attribute).
	Image string
	// Link matches the listing detail anchor within the block.
	Link string
}

// DefaultSelectors returns the selector set used when no site override is
// configured.
func DefaultSelectors() Selectors {
	return Selectors{
		Block: "[data-listing-id], article.listing, .listing-card",
		Fields: map[string]string{
			"title":         ".title, h2, h3",
			"address":       ".address",
			"city":          ".city",
			"state":         ".state",
			"zipcode":       ".zipcode, .postal-code",
			"price":         ".price",
			"bedrooms":      ".bedrooms, .beds",
			"bathrooms":     ".bathrooms, .baths",
			"sqft":          ".sqft, .area",
			"description":   ".description",
			"deal_type":     ".deal-type",
			"property_type": ".property-type",
		},
		Image: "img",
		Link:  "a",
	}
}

// Adapter extracts raw records from one page. The page is fetched lazily on
// the first Next call; extraction failures on individual blocks are
// non-fatal, total page unavailability is fatal.
type Adapter struct {
	pageURL   string
	fetcher   PageFetcher
	selectors Selectors
	logger    *zap.Logger

	fetched bool
	queue   []blockResult
}

type blockResult struct {
	record catalog.RawRecord
	err    error
}

// New creates an Adapter for the given page URL.
func New(pageURL string, fetcher PageFetcher, selectors Selectors, logger *zap.Logger) *Adapter {
	if selectors.Block == "" {
		selectors = DefaultSelectors()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		pageURL:   pageURL,
		fetcher:   fetcher,
		selectors: selectors,
		logger:    logger,
	}
}

// Next returns the next extracted listing block.
func (a *Adapter) Next(ctx context.Context) (catalog.RawRecord, error) {
	if !a.fetched {
		if err := a.fetchAndParse(ctx); err != nil {
			return catalog.RawRecord{}, err
		}
		a.fetched = true
	}
	if len(a.queue) == 0 {
		return catalog.RawRecord{}, catalog.ErrEndOfSource
	}
	head := a.queue[0]
	a.queue = a.queue[1:]
	return head.record, head.err
}

// Close releases the underlying fetcher.
func (a *Adapter) Close() error {
	return a.fetcher.Close()
}

func (a *Adapter) fetchAndParse(ctx context.Context) error {
	body, err := a.fetcher.FetchPage(ctx, a.pageURL)
	if err != nil {
		return fmt.Errorf("fetch source page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse source page: %w", err)
	}

	blocks := doc.Find(a.selectors.Block)
	if blocks.Length() == 0 {
		return fmt.Errorf("no listing blocks matched %q on %s", a.selectors.Block, a.pageURL)
	}

	a.logger.Debug("extracted listing blocks",
		zap.String("url", a.pageURL),
		zap.Int("count", blocks.Length()),
	)

	blocks.Each(func(i int, sel *goquery.Selection) {
		rec, err := a.extractBlock(sel)
		if err != nil {
			a.queue = append(a.queue, blockResult{err: err})
			return
		}
		a.queue = append(a.queue, blockResult{record: rec})
	})
	return nil
}

func (a *Adapter) extractBlock(sel *goquery.Selection) (catalog.RawRecord, error) {
	fields := make(map[string]string)

	// data-* attributes on the container win over child text.
	for _, attr := range []string{"data-external-id", "data-listing-id"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			fields["external_id"] = strings.TrimSpace(v)
			break
		}
	}

	for name, fieldSel := range a.selectors.Fields {
		if _, exists := fields[name]; exists {
			continue
		}
		if text := strings.TrimSpace(sel.Find(fieldSel).First().Text()); text != "" {
			fields[name] = text
		}
	}

	if href, ok := sel.Find(a.selectors.Link).First().Attr("href"); ok {
		fields["original_url"] = a.absoluteURL(href)
	}

	var images []string
	sel.Find(a.selectors.Image).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			images = append(images, a.absoluteURL(strings.TrimSpace(src)))
		}
	})
	if len(images) > 0 {
		fields["images"] = strings.Join(images, "|")
	}

	if len(fields) == 0 {
		return catalog.RawRecord{}, catalog.NewValidationError("block", "no recognizable fields")
	}
	return catalog.RawRecord{Source: "scrape", Fields: fields}, nil
}

func (a *Adapter) absoluteURL(ref string) string {
	base, err := url.Parse(a.pageURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
