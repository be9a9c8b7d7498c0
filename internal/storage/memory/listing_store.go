package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/coralcity/listing-importer/internal/catalog"
)

// ListingStore keeps listings in memory with the same upsert semantics as the
// postgres store.
type ListingStore struct {
	mu       sync.RWMutex
	nextID   int64
	listings map[int64]catalog.Listing
}

// NewListingStore creates an empty in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{nextID: 1, listings: make(map[int64]catalog.Listing)}
}

// Upsert deduplicates by (realtor, external_id) when the external id is
// present. On update, mutable fields are replaced but existing coordinates
// are kept when the incoming record has none.
func (s *ListingStore) Upsert(_ context.Context, listing catalog.Listing) (catalog.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.ExternalID != "" {
		for id, existing := range s.listings {
			if existing.RealtorID == listing.RealtorID && existing.ExternalID == listing.ExternalID {
				updated := listing
				updated.ID = id
				if !updated.HasCoordinates() && existing.HasCoordinates() {
					updated.Latitude = existing.Latitude
					updated.Longitude = existing.Longitude
				}
				s.listings[id] = updated
				return catalog.UpsertResult{Listing: cloneListing(updated), Created: false}, nil
			}
		}
	}

	listing.ID = s.nextID
	s.nextID++
	s.listings[listing.ID] = listing
	return catalog.UpsertResult{Listing: cloneListing(listing), Created: true}, nil
}

// SetCoordinates writes the pair only when the listing has none, so a
// geocoder result never clobbers known-good coordinates.
func (s *ListingStore) SetCoordinates(_ context.Context, listingID int64, point catalog.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return catalog.ErrNotFound
	}
	if listing.HasCoordinates() {
		return nil
	}
	listing.SetCoordinates(point.Latitude, point.Longitude)
	s.listings[listingID] = listing
	return nil
}

// Get returns one listing by id.
func (s *ListingStore) Get(_ context.Context, listingID int64) (catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return catalog.Listing{}, catalog.ErrNotFound
	}
	return cloneListing(listing), nil
}

// Search applies the filter and returns matches ordered by newest list date
// first, id descending as a tiebreak.
func (s *ListingStore) Search(_ context.Context, filter catalog.ListingFilter) ([]catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []catalog.Listing
	for _, listing := range s.listings {
		if !matches(listing, filter) {
			continue
		}
		out = append(out, cloneListing(listing))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ListDate.Equal(out[j].ListDate) {
			return out[i].ListDate.After(out[j].ListDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func matches(l catalog.Listing, f catalog.ListingFilter) bool {
	if f.RealtorID != 0 && l.RealtorID != f.RealtorID {
		return false
	}
	if f.City != "" && !strings.EqualFold(l.City, f.City) {
		return false
	}
	if f.State != "" && !strings.EqualFold(l.State, f.State) {
		return false
	}
	if f.MaxBedrooms > 0 && l.Bedrooms > f.MaxBedrooms {
		return false
	}
	if f.MaxPrice > 0 && l.Price > f.MaxPrice {
		return false
	}
	if f.PublishedOnly && !l.IsPublished {
		return false
	}
	if f.WithCoords && !l.HasCoordinates() {
		return false
	}
	return true
}

func cloneListing(l catalog.Listing) catalog.Listing {
	out := l
	if l.Latitude != nil {
		v := *l.Latitude
		out.Latitude = &v
	}
	if l.Longitude != nil {
		v := *l.Longitude
		out.Longitude = &v
	}
	return out
}
