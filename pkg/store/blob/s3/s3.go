// Package s3 provides a blob.Store on Amazon S3 or any S3-compatible
// service (MinIO, Localstack, Cubbit DS3).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/store/blob"
)

// S3BlobStoreConfig contains configuration for the S3 blob store.
type S3BlobStoreConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// KeyPrefix is prepended to every object key, e.g. "dittoshare/"
	KeyPrefix string `mapstructure:"key_prefix"`

	// PublicBaseURL overrides the download link prefix (a CDN in front of
	// the bucket). Defaults to the bucket's own endpoint.
	PublicBaseURL string `mapstructure:"public_base_url"`

	// MaxRetries bounds SDK retries for transient failures (default: 10)
	MaxRetries int `mapstructure:"max_retries"`

	// Client skips client construction when set (tests)
	Client *s3.Client `mapstructure:"-"`
}

// S3BlobStore implements blob.Store on S3.
//
// Payloads are bounded by the upload limit of the files service, so Put
// buffers the body to give the SDK a seekable reader for checksums and
// retries.
type S3BlobStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	baseURL   string
}

// NewS3ClientFromConfig builds an S3 client from explicit settings, falling
// back to the default AWS credential chain when no static keys are given.
func NewS3ClientFromConfig(ctx context.Context, cfg S3BlobStoreConfig) (*s3.Client, error) {
	var opts []func(*awsConfig.LoadOptions) error
	opts = append(opts, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
	}), nil
}

// NewS3BlobStore creates the store and verifies bucket access. The bucket
// must already exist.
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 blob store: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3 blob store: region is required")
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = NewS3ClientFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Info("S3 blob store initialized: bucket=%s, region=%s, prefix=%s", cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return &S3BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		baseURL:   publicBaseURL(cfg),
	}, nil
}

// publicBaseURL returns the URL prefix under which object keys are reachable.
func publicBaseURL(cfg S3BlobStoreConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	if cfg.ForcePathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s", cfg.Region, cfg.Bucket)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func (s *S3BlobStore) objectKey(objectID string) string {
	return s.keyPrefix + objectID
}

func (s *S3BlobStore) Put(ctx context.Context, objectID string, body io.Reader, size int64, contentType string) (blob.Location, error) {
	if err := ctx.Err(); err != nil {
		return blob.Location{}, err
	}
	if err := blob.ValidateObjectID(objectID); err != nil {
		return blob.Location{}, err
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	read, err := io.Copy(&buf, body)
	if err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}
	if size >= 0 && read != size {
		return blob.Location{}, fmt.Errorf("put %s: payload size mismatch: declared %d, read %d", objectID, size, read)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(objectID)),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(read),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return blob.Location{}, fmt.Errorf("put %s: %w", objectID, err)
	}

	return blob.PublicLocation(s.baseURL, s.objectKey(objectID)), nil
}

func (s *S3BlobStore) Open(ctx context.Context, objectID string) (io.ReadCloser, blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, blob.Info{}, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(objectID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.Info{}, fmt.Errorf("open %s: %w", objectID, blob.ErrNotFound)
		}
		return nil, blob.Info{}, fmt.Errorf("open %s: %w", objectID, err)
	}

	return out.Body, blob.Info{
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Delete checks for the object first: S3 reports success when deleting a
// missing key.
func (s *S3BlobStore) Delete(ctx context.Context, objectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := aws.String(s.objectKey(objectID))

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: key}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("delete %s: %w", objectID, blob.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", objectID, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: key}); err != nil {
		return fmt.Errorf("delete %s: %w", objectID, err)
	}
	return nil
}

func (s *S3BlobStore) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *S3BlobStore) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
