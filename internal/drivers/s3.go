package drivers

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Driver implements the Driver interface against any S3-compatible API.
type S3Driver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3Config configures an S3-compatible storage driver.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// NewS3Driver creates a new S3-compatible storage driver.
func NewS3Driver(cfg S3Config, logger *zap.Logger) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Driver{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// buildKey constructs the full S3 key with prefix
func (d *S3Driver) buildKey(container, artifact string) string {
	if artifact == "" {
		return path.Join(d.prefix, container)
	}
	return path.Join(d.prefix, container, artifact)
}

// Get retrieves an artifact
func (d *S3Driver) Get(ctx context.Context, container, artifact string) (io.ReadCloser, error) {
	key := d.buildKey(container, artifact)

	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	return result.Body, nil
}

// Put stores an artifact
func (d *S3Driver) Put(ctx context.Context, container, artifact string, data io.Reader) error {
	key := d.buildKey(container, artifact)

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	d.logger.Debug("stored artifact",
		zap.String("key", key),
		zap.String("bucket", d.bucket))

	return nil
}

// Delete removes an artifact
func (d *S3Driver) Delete(ctx context.Context, container, artifact string) error {
	key := d.buildKey(container, artifact)

	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	return nil
}

// List lists artifact keys in a container, relative to the container root.
func (d *S3Driver) List(ctx context.Context, container, prefix string) ([]string, error) {
	base := d.buildKey(container, "") + "/"
	full := base + prefix

	var artifacts []string
	var continuation *string
	for {
		result, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(full),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", full, err)
		}

		for _, obj := range result.Contents {
			if obj.Key == nil {
				continue
			}
			artifacts = append(artifacts, strings.TrimPrefix(*obj.Key, base))
		}

		if result.IsTruncated == nil || !*result.IsTruncated {
			break
		}
		continuation = result.NextContinuationToken
	}

	return artifacts, nil
}

// Exists checks whether an artifact is present
func (d *S3Driver) Exists(ctx context.Context, container, artifact string) (bool, error) {
	key := d.buildKey(container, artifact)

	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

// Stat reports artifact metadata
func (d *S3Driver) Stat(ctx context.Context, container, artifact string) (ArtifactInfo, error) {
	key := d.buildKey(container, artifact)

	result, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("head object %s: %w", key, err)
	}

	info := ArtifactInfo{Key: artifact}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.ModTime = *result.LastModified
	}
	return info, nil
}

// HealthCheck verifies connectivity to the bucket.
func (d *S3Driver) HealthCheck(ctx context.Context) error {
	_, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(d.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", d.bucket, err)
	}
	return nil
}
