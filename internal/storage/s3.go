package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"school-service/internal/config"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps files under a key prefix of one bucket. Puts are retried with
// exponential backoff capped at two seconds.
type S3Store struct {
	client  S3API
	bucket  string
	prefix  string
	retries int
	timeout time.Duration
	logger  *zap.Logger
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})
	logger.Info("S3 file store initialized",
		zap.String("bucket", cfg.S3Bucket),
		zap.String("prefix", cfg.S3Prefix),
		zap.String("region", cfg.AWSRegion))
	return NewS3StoreWithClient(client, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

func NewS3StoreWithClient(client S3API, bucket, prefix string, logger *zap.Logger) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		retries: 3,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Put buffers body so every attempt can send it from the start.
func (s *S3Store) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) (FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return FileInfo{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read upload: %w", err)
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return FileInfo{}, err
		}

		if lastErr = s.putObject(ctx, name, data, contentType); lastErr == nil {
			return FileInfo{Name: name, Size: int64(len(data)), ContentType: contentType, StoredAt: time.Now().UTC()}, nil
		}
		s.logger.Warn("S3 put failed",
			zap.String("key", s.prefix+name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return FileInfo{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return FileInfo{}, fmt.Errorf("failed to upload %s: %w", name, lastErr)
}

func (s *S3Store) putObject(ctx context.Context, name string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

func (s *S3Store) Get(ctx context.Context, name string) (io.ReadCloser, FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, FileInfo{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, FileInfo{}, ErrNotFound
	}
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("failed to get %s: %w", name, err)
	}

	info := FileInfo{
		Name:        name,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.StoredAt = out.LastModified.UTC()
	}
	return out.Body, info, nil
}
