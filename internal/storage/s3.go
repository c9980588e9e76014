package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"jwstascii-lambda-updater/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client uses AWS S3 for storage
type S3Client struct {
	client *s3.Client
	bucket string
	logger *logger.Logger
}

// NewS3Client creates a new S3 client. Credentials may be empty, in which
// case the default provider chain (environment, shared config) is used;
// that is how CI injects them.
func NewS3Client(ctx context.Context, bucket, region, accessKey, secretKey string, log *logger.Logger) (*S3Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}

	log.Debug().
		Str("bucket", bucket).
		Str("region", region).
		Msg("Creating S3 client")

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Error().
			Err(err).
			Str("region", region).
			Msg("Failed to load AWS config")
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	log.Info().
		Str("bucket", bucket).
		Str("region", region).
		Msg("S3 client created")

	return &S3Client{
		client: client,
		bucket: bucket,
		logger: log,
	}, nil
}

// UploadObject uploads the reader's contents to S3 under the given key.
func (s *S3Client) UploadObject(ctx context.Context, key string, body io.Reader) error {
	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Msg("Uploading object to S3")

	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bucket", s.bucket).
			Str("key", key).
			Msg("Failed to upload object to S3")
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	s.logger.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Msg("Object uploaded to S3")

	return nil
}

// UploadFile uploads a local file to S3 under the given key. Every call
// overwrites the same object; deploys are last-writer-wins.
func (s *S3Client) UploadFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	s.logger.Debug().
		Str("file_path", filePath).
		Str("bucket", s.bucket).
		Str("key", key).
		Int64("size", fileInfo.Size()).
		Msg("Uploading file to S3")

	if err := s.UploadObject(ctx, key, file); err != nil {
		return err
	}

	s.logger.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Int64("size", fileInfo.Size()).
		Msg("File uploaded to S3")

	return nil
}

// Bucket returns the bucket this client writes to.
func (s *S3Client) Bucket() string {
	return s.bucket
}
