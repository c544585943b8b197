package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JAGGU8160/blog-app/config"
)

// ErrInvalidKey is returned for object keys that are empty, absolute, or
// escape the bucket root.
var ErrInvalidKey = errors.New("invalid object key")

// ImagePrefix is the key prefix every uploaded post image lives under.
const ImagePrefix = "images/"

// ObjectStorage is what the blog needs from a backend: a bucket to write
// images into and a way to remove them once no post references them.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete removes key. A key that is already gone is not an error.
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	name    string
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend. name
// labels the backend in logs and metrics.
func NewStorage(name string, backend ObjectStorage) *Storage {
	return &Storage{name: name, backend: backend}
}

// NewFromConfig builds the backend selected by cfg.Backend and makes sure
// its bucket exists.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.StorageBackendLocal:
		backend, err = NewLocalClient(cfg.Local)
	case config.StorageBackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.StorageBackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case config.StorageBackendS3:
		backend, err = NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Backend, err)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure %s bucket %q: %w", cfg.Backend, backend.Bucket(), err)
	}
	return NewStorage(cfg.Backend, backend), nil
}

// Name returns the backend label.
func (s *Storage) Name() string {
	return s.name
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.backend.Delete(ctx, key)
}

// Close releases the backend's client connections.
func (s *Storage) Close() error {
	return s.backend.Close()
}

// ValidateKey accepts slash-separated relative keys without dot segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
