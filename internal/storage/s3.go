package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gamingglow/portal/internal/config"
)

// S3Presigner signs GetObject requests for AWS S3 or an S3-compatible
// endpoint.
type S3Presigner struct {
	presign *s3.PresignClient
	bucket  string
	now     func() time.Time
}

func NewS3Presigner(ctx context.Context, cfg config.StorageConfig) (*S3Presigner, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	// Without static keys the default credential chain applies.
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Presigner{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		now:     time.Now,
	}, nil
}

func (p *S3Presigner) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, time.Time, error) {
	if err := checkPresignArgs(key, ttl); err != nil {
		return "", time.Time{}, err
	}

	expiresAt := p.now().Add(ttl)
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(p.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(contentDisposition(filename)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign object: %w", err)
	}
	return req.URL, expiresAt, nil
}
