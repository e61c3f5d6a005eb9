package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/pkg/logger"
	"github.com/gamingglow/portal/pkg/sanitize"
)

const (
	ChecksumAlgorithm = "SHA-256"

	grantTokenBytes   = 16 // 128 bits
	grantMintAttempts = 3
	defaultExtension  = ".zip"
)

// Presigner mints time-limited object URLs that force an attachment filename.
type Presigner interface {
	PresignDownload(ctx context.Context, key, filename string, ttl time.Duration) (string, time.Time, error)
}

type ReleaseLookup interface {
	FindBySlug(ctx context.Context, slug, version string) (*models.Release, error)
}

type GrantStore interface {
	Put(ctx context.Context, g *models.DownloadGrant, ttl time.Duration) error
	Take(ctx context.Context, token string) (*models.DownloadGrant, error)
}

type DownloadCounter interface {
	Increment(ctx context.Context, productID, releaseID string, now time.Time) error
}

type DownloadStatRecorder interface {
	Record(ctx context.Context, s *models.DownloadStat) error
}

type DownloadService struct {
	limiter   *RateLimitService
	releases  ReleaseLookup
	presigner Presigner
	grants    GrantStore
	counters  DownloadCounter
	stats     DownloadStatRecorder
	audit     *AuditService
	config    *config.Config
	opTimeout time.Duration
	now       func() time.Time
}

func NewDownloadService(
	limiter *RateLimitService,
	releases ReleaseLookup,
	presigner Presigner,
	grants GrantStore,
	counters DownloadCounter,
	stats DownloadStatRecorder,
	audit *AuditService,
	cfg *config.Config,
) *DownloadService {
	opTimeout := cfg.Redis.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &DownloadService{
		limiter:   limiter,
		releases:  releases,
		presigner: presigner,
		grants:    grants,
		counters:  counters,
		stats:     stats,
		audit:     audit,
		config:    cfg,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func (s *DownloadService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HashIP returns the keyed fingerprint used in place of a client IP
// everywhere on the download path.
func (s *DownloadService) HashIP(ip string) string {
	mac := hmac.New(sha256.New, []byte(s.config.Download.IPHashSecret))
	mac.Write([]byte(strings.TrimSpace(ip)))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequestDownload authorizes one download of slug (version empty means the
// latest release) and returns a presigned URL plus a one-time token.
func (s *DownloadService) RequestDownload(ctx context.Context, slug, version string, meta models.RequestMeta) (*models.DownloadTicket, error) {
	cfg := s.config.Download
	ipHash := s.HashIP(meta.IPAddress)
	slug = strings.TrimSpace(slug)
	version = strings.TrimSpace(version)

	global, err := s.limiter.Enforce(ctx, "download_global", RateLimitKey("download", ipHash), cfg.GlobalLimit, cfg.Window)
	if err != nil {
		downloadRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	rel, err := s.releases.FindBySlug(ctx, slug, version)
	if errors.Is(err, sql.ErrNoRows) {
		downloadRejections.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup release: %w", err)
	}
	if rel.ProductStatus != models.ProductPublished || rel.ScanStatus != models.ScanClean {
		downloadRejections.WithLabelValues("not_published").Inc()
		logger.Info().
			Str("product_id", rel.ProductID).
			Str("release_id", rel.ID).
			Str("product_status", string(rel.ProductStatus)).
			Str("scan_status", string(rel.ScanStatus)).
			Msg("Download refused for ineligible release")
		return nil, ErrNotPublished
	}

	if _, err := s.limiter.Enforce(ctx, "download_product", RateLimitKey("download", ipHash, rel.ProductID), cfg.ProductLimit, cfg.Window); err != nil {
		downloadRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	filename := sanitize.AttachmentFilename(rel.ProductSlug, rel.Version, extensionFor(rel.ContentType))
	url, expiresAt, err := s.presigner.PresignDownload(ctx, rel.StorageKey, filename, cfg.URLTTL)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}

	grant, err := s.mintGrant(ctx, rel, ipHash, expiresAt)
	if err != nil {
		return nil, err
	}
	grantsIssued.Inc()

	s.recordIssued(ctx, rel, ipHash, meta.UserAgent)

	return &models.DownloadTicket{
		DownloadURL:       url,
		ExpiresAt:         expiresAt,
		Checksum:          rel.Checksum,
		ChecksumAlgorithm: ChecksumAlgorithm,
		Filename:          filename,
		FileSize:          rel.FileSize,
		Version:           rel.Version,
		Token:             grant.Token,
		RateLimit:         &global,
	}, nil
}

func (s *DownloadService) mintGrant(ctx context.Context, rel *models.Release, ipHash string, expiresAt time.Time) (*models.DownloadGrant, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = s.config.Download.URLTTL
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	for attempt := 0; attempt < grantMintAttempts; attempt++ {
		token, err := randomToken(grantTokenBytes)
		if err != nil {
			return nil, err
		}
		grant := &models.DownloadGrant{
			Token:     token,
			ReleaseID: rel.ID,
			ProductID: rel.ProductID,
			IPHash:    ipHash,
			ExpiresAt: expiresAt,
		}
		err = s.grants.Put(opCtx, grant, ttl)
		if errors.Is(err, repository.ErrGrantExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: store grant: %v", ErrStoreUnavailable, err)
		}
		return grant, nil
	}
	return nil, fmt.Errorf("store grant: %w", repository.ErrGrantExists)
}

// recordIssued updates counters, the durable stats row and the audit log.
// None of these can fail the download once the grant exists.
func (s *DownloadService) recordIssued(ctx context.Context, rel *models.Release, ipHash, userAgent string) {
	now := s.now()
	bg := context.WithoutCancel(ctx)

	counterCtx, cancel := context.WithTimeout(bg, s.opTimeout)
	if err := s.counters.Increment(counterCtx, rel.ProductID, rel.ID, now); err != nil {
		bestEffortFailures.WithLabelValues("download_counters").Inc()
		logger.Warn().Err(err).Str("product_id", rel.ProductID).Str("ip_hash", ipHash).Msg("Failed to increment download counters")
	}
	cancel()

	statCtx, cancel := context.WithTimeout(bg, time.Second)
	if err := s.stats.Record(statCtx, &models.DownloadStat{
		ProductID: rel.ProductID,
		ReleaseID: rel.ID,
		IPHash:    ipHash,
		Bytes:     rel.FileSize,
		UserAgent: sanitize.AuditValue(userAgent),
		CreatedAt: now,
	}); err != nil {
		bestEffortFailures.WithLabelValues("download_stats").Inc()
		logger.Warn().Err(err).Str("product_id", rel.ProductID).Str("ip_hash", ipHash).Msg("Failed to record download stat")
	}
	cancel()

	s.audit.Record(ctx, models.AuditEntry{
		Action:     models.AuditDownloadIssued,
		TargetType: "release",
		TargetID:   rel.ID,
		Details: map[string]string{
			"product_id": rel.ProductID,
			"version":    rel.Version,
			"ip_hash":    ipHash,
		},
		UserAgent: userAgent,
		CreatedAt: now,
	})
}

// RedeemGrant consumes a download token. The grant is deleted whether or not
// the caller's IP matches, so a token never works twice.
func (s *DownloadService) RedeemGrant(ctx context.Context, token, ip string) (*models.DownloadGrant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		grantRedemptions.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidOrExpired
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	grant, err := s.grants.Take(opCtx, token)
	if errors.Is(err, repository.ErrGrantNotFound) {
		grantRedemptions.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidOrExpired
	}
	if err != nil {
		grantRedemptions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: take grant: %v", ErrStoreUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(grant.IPHash), []byte(s.HashIP(ip))) != 1 {
		grantRedemptions.WithLabelValues("ip_mismatch").Inc()
		return nil, ErrInvalidOrExpired
	}
	if !grant.ExpiresAt.IsZero() && !s.now().Before(grant.ExpiresAt) {
		grantRedemptions.WithLabelValues("expired").Inc()
		return nil, ErrInvalidOrExpired
	}

	grantRedemptions.WithLabelValues("redeemed").Inc()
	return grant, nil
}

func extensionFor(contentType string) string {
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return defaultExtension
}

func rejectionReason(err error) string {
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited"
	}
	return "store_unavailable"
}
