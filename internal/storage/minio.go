package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOPresigner signs GET URLs against a MinIO deployment.
type MinIOPresigner struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinIOPresigner(cfg config.StorageConfig) (*MinIOPresigner, error) {
	endpoint, secure, err := minioEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	// A fixed region keeps presigning offline; otherwise the client asks the
	// server for the bucket location first.
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOPresigner{
		client: client,
		bucket: cfg.Bucket,
		now:    time.Now,
	}, nil
}

// minioEndpoint accepts host:port or a full URL. A URL scheme overrides
// useSSL.
func minioEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("MinIO endpoint cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/"), useSSL, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid MinIO endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		return u.Host, false, nil
	case "https":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("unsupported MinIO endpoint scheme %q", u.Scheme)
	}
}

func (p *MinIOPresigner) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, time.Time, error) {
	if err := checkPresignArgs(key, ttl); err != nil {
		return "", time.Time{}, err
	}

	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition(filename))

	expiresAt := p.now().Add(ttl)
	presignedURL, err := p.client.PresignedGetObject(ctx, p.bucket, key, ttl, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedURL.String(), expiresAt, nil
}
