package storage

import (
	"context"
	"io"
	"strings"
)

// ObjectStorage defines common object operations across backends.
// Delete is tolerant of already-absent objects: removing a key that does not
// exist is not an error.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// PublicURL returns the externally reachable URL of an object.
func (s *Storage) PublicURL(key string) string {
	return s.backend.PublicURL(key)
}

// KeyFromURL recovers the object key from a URL previously returned by
// PublicURL. Returns "" when the URL does not belong to this backend.
func (s *Storage) KeyFromURL(rawURL string) string {
	base := s.backend.PublicURL("")
	if !strings.HasPrefix(rawURL, base) {
		return ""
	}
	return strings.TrimPrefix(rawURL, base)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
