package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/storage"
)

// imageExtensions maps accepted sniffed content types to object key
// extensions.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadService stores post images and returns their public URL.
type UploadService struct {
	storage   *storage.Storage
	publicURL string
	maxBytes  int64
	metrics   *metrics.Metrics
	newID     func() string
}

func NewUploadService(store *storage.Storage, publicURL string, maxBytes int64, m *metrics.Metrics) *UploadService {
	return &UploadService{
		storage:   store,
		publicURL: publicURL,
		maxBytes:  maxBytes,
		metrics:   m,
		newID:     uuid.NewString,
	}
}

// MaxBytes is the largest accepted image.
func (s *UploadService) MaxBytes() int64 {
	return s.maxBytes
}

// UploadImage reads at most MaxBytes from r, checks the bytes are a
// supported image and stores them under images/<uuid><ext>.
func (s *UploadService) UploadImage(ctx context.Context, r io.Reader) (url string, err error) {
	defer func() { s.metrics.Upload(s.storage.Name(), err) }()

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return "", invalid("Image is required")
	}
	if int64(len(data)) > s.maxBytes {
		return "", invalid(fmt.Sprintf("Image must be at most %d bytes", s.maxBytes))
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", invalid("Only JPEG, PNG, GIF and WEBP images are allowed")
	}

	key := storage.ImagePrefix + s.newID() + ext
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// RemoveImage deletes the object behind a URL returned by UploadImage. Any
// other URL, such as an external image link, is left alone.
func (s *UploadService) RemoveImage(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok || !strings.HasPrefix(key, storage.ImagePrefix) {
		return nil
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove image %q: %w", key, err)
	}
	return nil
}
