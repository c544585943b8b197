package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JAGGU8160/blog-app/config"
)

// S3Client keeps post images in an AWS S3 bucket, or any endpoint speaking
// the S3 API when S3_ENDPOINT is set.
type S3Client struct {
	api    *s3.Client
	bucket *string
}

// NewS3Client uses static keys when both are set, otherwise the default AWS
// credential chain.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*S3Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Client{api: api, bucket: aws.String(cfg.Bucket)}, nil
}

// EnsureBucket creates the bucket, treating one we already own as success.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: c.bucket})
	var owned *types.BucketAlreadyOwnedByYou
	if err == nil || errors.As(err, &owned) {
		return nil
	}
	// Some S3-compatible servers answer BucketAlreadyExists for our own
	// bucket; HeadBucket tells whether we can actually use it.
	if _, headErr := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: c.bucket}); headErr == nil {
		return nil
	}
	return err
}

func (c *S3Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:       c.bucket,
		Key:          aws.String(key),
		Body:         r,
		CacheControl: aws.String(imageCacheControl),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := c.api.PutObject(ctx, in)
	return err
}

// Delete succeeds for missing keys; S3 reports no error for them.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: c.bucket, Key: aws.String(key)})
	return err
}

func (c *S3Client) Bucket() string {
	return aws.ToString(c.bucket)
}

// Close is a no-op; the SDK's HTTP client is shared.
func (c *S3Client) Close() error {
	return nil
}
