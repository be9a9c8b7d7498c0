package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// ListingStore persists listings. Deduplication relies on a partial unique
// index on (realtor_id, external_id) where external_id <> ''.
type ListingStore struct {
	pool dbPool
}

// NewListingStore constructs a store from an existing pool.
func NewListingStore(pool dbPool) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ListingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const listingColumns = `id, realtor_id, external_id, title, address, city, state, zipcode,
latitude, longitude, price, bedrooms, bathrooms, garage, sqft, lot_size,
description, deal_type, property_type, is_published, list_date, original_url`

// Upsert inserts or updates a listing. Records with an empty external_id
// never hit the partial index, so they always insert. COALESCE on the
// coordinate columns keeps existing values when the incoming record has
// none; xmax = 0 distinguishes insert from update.
func (s *ListingStore) Upsert(ctx context.Context, listing catalog.Listing) (catalog.UpsertResult, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO listings (
	realtor_id, external_id, title, address, city, state, zipcode,
	latitude, longitude, price, bedrooms, bathrooms, garage, sqft, lot_size,
	description, deal_type, property_type, is_published, list_date, original_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
ON CONFLICT (realtor_id, external_id) WHERE external_id <> '' DO UPDATE SET
	title = EXCLUDED.title,
	address = EXCLUDED.address,
	city = EXCLUDED.city,
	state = EXCLUDED.state,
	zipcode = EXCLUDED.zipcode,
	latitude = COALESCE(listings.latitude, EXCLUDED.latitude),
	longitude = COALESCE(listings.longitude, EXCLUDED.longitude),
	price = EXCLUDED.price,
	bedrooms = EXCLUDED.bedrooms,
	bathrooms = EXCLUDED.bathrooms,
	garage = EXCLUDED.garage,
	sqft = EXCLUDED.sqft,
	lot_size = EXCLUDED.lot_size,
	description = EXCLUDED.description,
	deal_type = EXCLUDED.deal_type,
	property_type = EXCLUDED.property_type,
	is_published = EXCLUDED.is_published,
	list_date = EXCLUDED.list_date,
	original_url = EXCLUDED.original_url
RETURNING id, latitude, longitude, (xmax = 0) AS created`,
		listing.RealtorID, listing.ExternalID, listing.Title, listing.Address,
		listing.City, listing.State, listing.Zipcode,
		listing.Latitude, listing.Longitude, listing.Price, listing.Bedrooms,
		listing.Bathrooms, listing.Garage, listing.Sqft, listing.LotSize,
		listing.Description, string(listing.DealType), string(listing.PropertyType),
		listing.IsPublished, listing.ListDate, listing.OriginalURL)

	var created bool
	if err := row.Scan(&listing.ID, &listing.Latitude, &listing.Longitude, &created); err != nil {
		return catalog.UpsertResult{}, fmt.Errorf("upsert listing: %w", err)
	}
	return catalog.UpsertResult{Listing: listing, Created: created}, nil
}

// SetCoordinates writes the pair only when both columns are null.
func (s *ListingStore) SetCoordinates(ctx context.Context, listingID int64, point catalog.Point) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE listings SET latitude = $2, longitude = $3
WHERE id = $1 AND latitude IS NULL AND longitude IS NULL`,
		listingID, point.Latitude, point.Longitude)
	if err != nil {
		return fmt.Errorf("set coordinates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check listing: %w", err)
		}
		if !exists {
			return catalog.ErrNotFound
		}
	}
	return nil
}

// Get loads one listing by id.
func (s *ListingStore) Get(ctx context.Context, listingID int64) (catalog.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, listingID)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Listing{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Listing{}, fmt.Errorf("select listing: %w", err)
	}
	return listing, nil
}

// Search applies the filter, newest list date first.
func (s *ListingStore) Search(ctx context.Context, filter catalog.ListingFilter) ([]catalog.Listing, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.RealtorID != 0 {
		add("realtor_id = $%d", filter.RealtorID)
	}
	if filter.City != "" {
		add("LOWER(city) = LOWER($%d)", filter.City)
	}
	if filter.State != "" {
		add("LOWER(state) = LOWER($%d)", filter.State)
	}
	if filter.MaxBedrooms > 0 {
		add("bedrooms <= $%d", filter.MaxBedrooms)
	}
	if filter.MaxPrice > 0 {
		add("price <= $%d", filter.MaxPrice)
	}
	if filter.PublishedOnly {
		conds = append(conds, "is_published")
	}
	if filter.WithCoords {
		conds = append(conds, "latitude IS NOT NULL AND longitude IS NOT NULL")
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY list_date DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()

	var out []catalog.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

func scanListing(row pgx.Row) (catalog.Listing, error) {
	var (
		l            catalog.Listing
		dealType     string
		propertyType string
	)
	err := row.Scan(
		&l.ID, &l.RealtorID, &l.ExternalID, &l.Title, &l.Address, &l.City,
		&l.State, &l.Zipcode, &l.Latitude, &l.Longitude, &l.Price, &l.Bedrooms,
		&l.Bathrooms, &l.Garage, &l.Sqft, &l.LotSize, &l.Description,
		&dealType, &propertyType, &l.IsPublished, &l.ListDate, &l.OriginalURL)
	if err != nil {
		return catalog.Listing{}, err
	}
	l.DealType = catalog.DealType(dealType)
	l.PropertyType = catalog.PropertyType(propertyType)
	return l, nil
}
