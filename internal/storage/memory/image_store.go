package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// ImageStore keeps listing images in memory.
type ImageStore struct {
	mu     sync.RWMutex
	nextID int64
	images map[int64]catalog.ListingImage
}

// NewImageStore creates an empty in-memory image store.
func NewImageStore() *ImageStore {
	return &ImageStore{nextID: 1, images: make(map[int64]catalog.ListingImage)}
}

// CountImages returns how many images the listing has.
func (s *ImageStore) CountImages(_ context.Context, listingID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, img := range s.images {
		if img.ListingID == listingID {
			count++
		}
	}
	return count, nil
}

// HasPrimary reports whether the listing already has a primary image.
func (s *ImageStore) HasPrimary(_ context.Context, listingID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.images {
		if img.ListingID == listingID && img.IsPrimary {
			return true, nil
		}
	}
	return false, nil
}

// AddImage inserts a row. When the new image is primary, any previous primary
// for the same listing is demoted so the at-most-one invariant holds.
func (s *ImageStore) AddImage(_ context.Context, img catalog.ListingImage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img.IsPrimary {
		for id, existing := range s.images {
			if existing.ListingID == img.ListingID && existing.IsPrimary {
				existing.IsPrimary = false
				s.images[id] = existing
			}
		}
	}
	img.ID = s.nextID
	s.nextID++
	s.images[img.ID] = img
	return img.ID, nil
}

// ListImages returns the listing's images in gallery order.
func (s *ImageStore) ListImages(_ context.Context, listingID int64) ([]catalog.ListingImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.ListingImage
	for _, img := range s.images {
		if img.ListingID == listingID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
