// Package memory implements an in-memory blob store for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Blob holds a stored object and its content type.
type Blob struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps objects in a map guarded by a mutex.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// New creates an empty in-memory blob store.
func New() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// PutObject stores the object under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = Blob{ContentType: contentType, Data: data}
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns a stored blob. It exists for test assertions.
func (s *BlobStore) Get(path string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	return b, ok
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
