package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JAGGU8160/blog-app/config"
)

// imageCacheControl marks uploaded images as immutable; keys are never reused.
const imageCacheControl = "public, max-age=31536000, immutable"

// MinioClient keeps post images in a MinIO (or other S3-compatible) bucket
// whose images/ prefix is anonymously readable, so UPLOAD_PUBLIC_URL can
// point straight at the bucket.
type MinioClient struct {
	api    *minio.Client
	bucket string
}

func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, errors.New("minio endpoint is required")
	case strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "":
		return nil, errors.New("minio access key and secret key are required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("minio bucket is required")
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioClient{api: api, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when missing and opens images/ for
// anonymous reads.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	if err := m.api.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := m.api.BucketExists(ctx, m.bucket)
		if existsErr != nil || !exists {
			return err
		}
	}
	return m.api.SetBucketPolicy(ctx, m.bucket, publicImagesPolicy(m.bucket))
}

func (m *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.api.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: imageCacheControl,
	})
	return err
}

func (m *MinioClient) Delete(ctx context.Context, key string) error {
	err := m.api.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

func (m *MinioClient) Bucket() string {
	return m.bucket
}

// Close is a no-op; the MinIO client holds no long-lived resources.
func (m *MinioClient) Close() error {
	return nil
}

func publicImagesPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/%s*"]}]}`,
		bucket, ImagePrefix)
}
