// Package normalize maps adapter raw records into the canonical listing
// schema. It is the only place that understands source vocabulary; everything
// downstream works with catalog types.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/coralcity/listing-importer/internal/catalog"
)

var (
	// numberRegexp captures the first numeric value, allowing grouping
	// separators ("1,149,900", "2360.0000").
	numberRegexp = regexp.MustCompile(`[\d][\d,.]*`)
	// bedroomsRegexp handles compound counts like "3 + 1" (basement room).
	bedroomsRegexp = regexp.MustCompile(`(\d+)(?:\s*\+\s*(\d+))?`)
)

// Record is a normalized listing plus the photo references that belong to it.
// Image URLs ride alongside rather than on the Listing because ListingImage
// rows are created separately by the image ingestor.
type Record struct {
	Listing   catalog.Listing
	ImageURLs []string
}

// Normalizer converts RawRecords into normalized Records for one realtor.
type Normalizer struct {
	realtorID int64
	clock     catalog.Clock
}

// New creates a Normalizer scoped to a realtor.
func New(realtorID int64, clock catalog.Clock) *Normalizer {
	return &Normalizer{realtorID: realtorID, clock: clock}
}

// Normalize validates and coerces a raw record. A missing external id AND
// missing address is a *catalog.ValidationError; numeric parse failures fall
// back to zero values rather than rejecting the record.
func (n *Normalizer) Normalize(raw catalog.RawRecord) (Record, error) {
	externalID := raw.Get("external_id", "id", "mls_number", "listing_id")
	address := collapseWhitespace(raw.Get("address", "street_address"))
	if externalID == "" && address == "" {
		return Record{}, catalog.NewValidationError("external_id/address", "at least one identity field is required")
	}

	listing := catalog.Listing{
		RealtorID:    n.realtorID,
		ExternalID:   externalID,
		Title:        collapseWhitespace(raw.Get("title", "name")),
		Address:      address,
		City:         collapseWhitespace(raw.Get("city")),
		State:        collapseWhitespace(raw.Get("state", "province")),
		Zipcode:      collapseWhitespace(raw.Get("zipcode", "zip", "postal_code")),
		Price:        parsePrice(raw.Get("price")),
		Bedrooms:     parseBedrooms(raw.Get("bedrooms", "beds")),
		Bathrooms:    parseFloat(raw.Get("bathrooms", "baths")),
		Garage:       int(parseFloat(raw.Get("garage"))),
		Sqft:         int(parseFloat(raw.Get("sqft", "area", "size_interior"))),
		LotSize:      parseFloat(raw.Get("lot_size")),
		Description:  strings.TrimSpace(raw.Get("description", "remarks")),
		DealType:     deriveDealType(raw.Get("deal_type", "offer_type")),
		PropertyType: derivePropertyType(raw.Get("property_type", "type", "building_type")),
		IsPublished:  parsePublished(raw.Get("is_published", "published")),
		ListDate:     n.parseListDate(raw.Get("list_date", "listed_at")),
		OriginalURL:  raw.Get("original_url", "url"),
	}
	if listing.Title == "" {
		listing.Title = address
	}

	return Record{
		Listing:   listing,
		ImageURLs: splitImageURLs(raw.Get("images", "photos")),
	}, nil
}

// parsePrice extracts an integer price from formatted strings like
// "$1,149,900" or "1149900.00". Unparseable input yields 0.
func parsePrice(raw string) int64 {
	f := parseFloat(raw)
	if f < 0 {
		return 0
	}
	return int64(f)
}

func parseFloat(raw string) float64 {
	match := numberRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	match = strings.ReplaceAll(match, ",", "")
	val, err := strconv.ParseFloat(strings.TrimRight(match, "."), 64)
	if err != nil {
		return 0
	}
	return val
}

// parseBedrooms sums compound counts: "3 + 1" is four bedrooms total.
func parseBedrooms(raw string) int {
	match := bedroomsRegexp.FindStringSubmatch(raw)
	if match == nil {
		return 0
	}
	total, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	if match[2] != "" {
		if extra, err := strconv.Atoi(match[2]); err == nil {
			total += extra
		}
	}
	return total
}

func parsePublished(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "1", "true", "yes", "y":
		// Imported listings default to published.
		return true
	default:
		return false
	}
}

func deriveDealType(raw string) catalog.DealType {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "rent"), strings.Contains(s, "lease"):
		return catalog.DealRent
	default:
		return catalog.DealSale
	}
}

func derivePropertyType(raw string) catalog.PropertyType {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return catalog.PropertyOther
	case strings.Contains(s, "apart"), strings.Contains(s, "flat"), s == "apt":
		return catalog.PropertyApartment
	case strings.Contains(s, "condo"):
		return catalog.PropertyCondo
	case strings.Contains(s, "town"), strings.Contains(s, "row"):
		return catalog.PropertyTownhouse
	case strings.Contains(s, "land"), strings.Contains(s, "lot"):
		return catalog.PropertyLand
	case strings.Contains(s, "house"), strings.Contains(s, "home"), strings.Contains(s, "single family"):
		return catalog.PropertyHouse
	default:
		return catalog.PropertyOther
	}
}

func (n *Normalizer) parseListDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC()
			}
		}
	}
	return n.clock.Now()
}

// splitImageURLs accepts "|" or newline separated URL lists; commas are
// avoided because they appear inside some CDN URLs.
func splitImageURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '|' || r == '\n'
	})
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

func collapseWhitespace(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
