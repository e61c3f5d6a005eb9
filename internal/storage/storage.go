package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/config"
)

const (
	DriverS3    = "s3"
	DriverMinIO = "minio"

	// Object stores reject presigned URLs valid for longer than a week.
	maxPresignTTL = 7 * 24 * time.Hour
)

// Presigner mints time-limited GET URLs for stored objects. The URL forces
// the browser to save the object under filename.
type Presigner interface {
	PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, time.Time, error)
}

// New builds the presigner selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Presigner, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}
	switch cfg.Driver {
	case DriverS3, "":
		return NewS3Presigner(ctx, cfg)
	case DriverMinIO:
		return NewMinIOPresigner(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func contentDisposition(filename string) string {
	return `attachment; filename="` + filename + `"`
}

func checkPresignArgs(key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if ttl < time.Second || ttl > maxPresignTTL {
		return fmt.Errorf("presign ttl must be between 1s and %s, got %s", maxPresignTTL, ttl)
	}
	return nil
}
