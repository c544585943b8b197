package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JAGGU8160/blog-app/config"
)

// LocalClient keeps images as files under a directory that the server
// exposes at /uploads.
type LocalClient struct {
	root string
}

func NewLocalClient(cfg config.LocalConfig) (*LocalClient, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("local upload dir is required")
	}
	return &LocalClient{root: filepath.Clean(cfg.Dir)}, nil
}

func (l *LocalClient) EnsureBucket(context.Context) error {
	return os.MkdirAll(filepath.Join(l.root, filepath.FromSlash(ImagePrefix)), 0o755)
}

// Put writes through a temporary file in the target directory and renames
// it into place, so /uploads never serves a partial image.
func (l *LocalClient) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	dst := l.file(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, size)
	}
	return os.Rename(tmp.Name(), dst)
}

func (l *LocalClient) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.file(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *LocalClient) Bucket() string {
	return l.root
}

func (l *LocalClient) Close() error {
	return nil
}

func (l *LocalClient) file(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}
