package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by the artifact store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ArtifactStore stores artifacts in a bucket.
type S3ArtifactStore struct {
	client  S3API
	bucket  string
	prefix  string
	baseURL string
}

// S3Options configures the S3 artifact store.
type S3Options struct {
	Bucket        string
	Region        string
	Prefix        string
	PublicBaseURL string
}

// NewS3Client loads the default AWS configuration for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewS3ArtifactStore wraps an S3 client.
func NewS3ArtifactStore(client S3API, opts S3Options) (*S3ArtifactStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	baseURL := strings.TrimRight(opts.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
	return &S3ArtifactStore{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		baseURL: baseURL,
	}, nil
}

// Put uploads r as an object named prefix/name.
func (s *S3ArtifactStore) Put(ctx context.Context, r io.Reader, name string, opts PutOptions) (PutResult, error) {
	key := s.objectKey(name)
	counter := &countingReader{r: r}
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     counter,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if opts.ExpiresAt != nil {
		input.Expires = aws.Time(*opts.ExpiresAt)
	}
	if opts.Size > 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return PutResult{}, fmt.Errorf("%w: upload %s: %v", ErrUnavailable, key, err)
	}
	return PutResult{URL: s.baseURL + "/" + key, Key: key, Size: counter.n}, nil
}

// Delete removes the object addressed by url.
func (s *S3ArtifactStore) Delete(ctx context.Context, url string) error {
	key, err := keyFromURL(s.baseURL, url)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Invalidate only checks ownership of url; objects are immutable and served straight from the bucket.
func (s *S3ArtifactStore) Invalidate(_ context.Context, url string, _ ...string) error {
	_, err := keyFromURL(s.baseURL, url)
	return err
}

func (s *S3ArtifactStore) objectKey(name string) string {
	name = strings.TrimLeft(name, "/")
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
