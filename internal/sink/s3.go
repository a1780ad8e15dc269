package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 publisher. Static keys are optional; without
// them the default AWS credential chain is used.
type S3Options struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // S3-compatible endpoint override
	AccessKeyID     string
	SecretAccessKey string
}

// S3API is the part of the S3 client the publisher uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher stores each message as an object under a key prefix.
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Publisher loads AWS configuration and creates the S3 client.
func NewS3Publisher(ctx context.Context, opts S3Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3PublisherWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3PublisherWithClient uses an existing client.
func NewS3PublisherWithClient(client S3API, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix}
}

func (p *S3Publisher) Name() string   { return KindS3 }
func (p *S3Publisher) Target() string { return "s3://" + path.Join(p.bucket, p.prefix) }

func (p *S3Publisher) key(m *Message) string {
	return path.Join(p.prefix, m.Kind, m.objectName())
}

func (p *S3Publisher) Publish(ctx context.Context, m *Message) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key(m)),
		Body:        bytes.NewReader(m.Body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"message-id":   m.ID,
			"message-kind": m.Kind,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload message to s3://%s: %w", p.bucket, err)
	}
	return nil
}
