package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Archiver stores a copy of a verified delivery outside the database.
type Archiver interface {
	Archive(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) error
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client writes deliveries to S3.
type Client struct {
	api    putObjectAPI
	config *Config
	log    *zap.Logger
}

// NewClient creates an S3 archive client and checks that the bucket is
// reachable.
func NewClient(ctx context.Context, cfg *Config, log *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("S3 archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Info("initialized S3 webhook archive", zap.String("bucket", cfg.BucketName))
	return newClient(s3Client, cfg, log), nil
}

func newClient(api putObjectAPI, cfg *Config, log *zap.Logger) *Client {
	return &Client{api: api, config: cfg, log: log.Named("s3archive")}
}

func (c *Client) Archive(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) error {
	key := c.config.ObjectKey(eventID, receivedAt)
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.config.BucketName, key, err)
	}
	c.log.Debug("archived webhook payload", zap.String("key", key))
	return nil
}

// Nop discards every delivery.
type Nop struct{}

func (Nop) Archive(context.Context, string, time.Time, []byte) error { return nil }
