package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/gamingglow/portal/internal/models"
)

// ReleaseRepository is the read side of the catalog used by downloads. The
// write methods exist for seeding and tests; catalog editing lives elsewhere.
type ReleaseRepository struct {
	db *sql.DB
}

func NewReleaseRepository(db *sql.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// FindBySlug selects the release a download for slug would serve: the given
// version, or when version is empty the latest-flagged clean release (newest
// published first). Releases that have not passed the scan are never
// selected, so a build still scanning leaves the previous clean one in
// service. Product status is returned unfiltered so the caller decides
// eligibility. Returns sql.ErrNoRows when nothing matches.
func (r *ReleaseRepository) FindBySlug(ctx context.Context, slug, version string) (*models.Release, error) {
	rel := &models.Release{}
	var (
		productStatus, scanStatus string
		isLatest                  int
		publishedAt               sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT r.id, p.id, p.slug, p.status, r.version, r.file_key, r.file_size,
			r.checksum_sha256, r.content_type, r.scan_status, r.is_latest, r.published_at
		FROM products p
		JOIN releases r ON r.product_id = p.id
		WHERE p.slug = ? AND r.scan_status = ? AND (? = '' OR r.version = ?)
		ORDER BY r.is_latest DESC, r.published_at IS NULL, r.published_at DESC, r.created_at DESC
		LIMIT 1
	`, slug, string(models.ScanClean), version, version).Scan(&rel.ID, &rel.ProductID, &rel.ProductSlug, &productStatus, &rel.Version,
		&rel.StorageKey, &rel.FileSize, &rel.Checksum, &rel.ContentType, &scanStatus, &isLatest, &publishedAt)
	if err != nil {
		return nil, err
	}
	rel.ProductStatus = models.ProductStatus(productStatus)
	rel.ScanStatus = models.ScanStatus(scanStatus)
	rel.IsLatest = isLatest == 1
	if publishedAt.Valid {
		t := publishedAt.Time
		rel.PublishedAt = &t
	}
	return rel, nil
}

func (r *ReleaseRepository) CreateProduct(ctx context.Context, id, slug, title string, status models.ProductStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, slug, title, status, created_at) VALUES (?, ?, ?, ?, ?)
	`, id, slug, title, string(status), time.Now().UTC())
	return err
}

func (r *ReleaseRepository) CreateRelease(ctx context.Context, rel *models.Release) error {
	contentType := rel.ContentType
	if contentType == "" {
		contentType = "application/zip"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO releases (id, product_id, version, file_key, file_size, checksum_sha256, content_type, scan_status, is_latest, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.ProductID, rel.Version, rel.StorageKey, rel.FileSize, rel.Checksum, contentType,
		string(rel.ScanStatus), boolToInt(rel.IsLatest), nullableTime(rel.PublishedAt), time.Now().UTC())
	return err
}

func (r *ReleaseRepository) SetScanStatus(ctx context.Context, releaseID string, status models.ScanStatus) error {
	return expectOneRow(r.db.ExecContext(ctx, `UPDATE releases SET scan_status = ? WHERE id = ?`, string(status), releaseID))
}
