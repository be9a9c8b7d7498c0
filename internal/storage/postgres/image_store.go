package postgres

import (
	"context"
	"fmt"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// ImageStore persists listing images in the listing_images table.
type ImageStore struct {
	pool dbPool
}

// NewImageStore constructs a store from an existing pool.
func NewImageStore(pool dbPool) (*ImageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ImageStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ImageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CountImages returns how many images the listing has.
func (s *ImageStore) CountImages(ctx context.Context, listingID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM listing_images WHERE listing_id = $1`, listingID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

// HasPrimary reports whether the listing has a primary image.
func (s *ImageStore) HasPrimary(ctx context.Context, listingID int64) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM listing_images WHERE listing_id = $1 AND is_primary)`, listingID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check primary: %w", err)
	}
	return has, nil
}

// AddImage inserts a row. A new primary demotes any previous primary first so
// at most one image per listing carries the flag.
func (s *ImageStore) AddImage(ctx context.Context, img catalog.ListingImage) (int64, error) {
	if img.IsPrimary {
		if _, err := s.pool.Exec(ctx, `
UPDATE listing_images SET is_primary = FALSE WHERE listing_id = $1 AND is_primary`, img.ListingID); err != nil {
			return 0, fmt.Errorf("demote previous primary: %w", err)
		}
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO listing_images (listing_id, blob_uri, source_url, img_order, is_primary, is_visible)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		img.ListingID, img.BlobURI, img.SourceURL, img.Order, img.IsPrimary, img.IsVisible).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert image: %w", err)
	}
	return id, nil
}

// ListImages returns the listing's images in gallery order.
func (s *ImageStore) ListImages(ctx context.Context, listingID int64) ([]catalog.ListingImage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, listing_id, blob_uri, source_url, img_order, is_primary, is_visible
FROM listing_images WHERE listing_id = $1
ORDER BY img_order, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("select images: %w", err)
	}
	defer rows.Close()

	var out []catalog.ListingImage
	for rows.Next() {
		var img catalog.ListingImage
		if err := rows.Scan(&img.ID, &img.ListingID, &img.BlobURI, &img.SourceURL, &img.Order, &img.IsPrimary, &img.IsVisible); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}
