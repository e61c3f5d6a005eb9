package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gamingglow/portal/internal/models"
)

type DownloadStatRepository struct {
	db *sql.DB
}

func NewDownloadStatRepository(db *sql.DB) *DownloadStatRepository {
	return &DownloadStatRepository{db: db}
}

func (r *DownloadStatRepository) Record(ctx context.Context, s *models.DownloadStat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_stats (product_id, release_id, ip_hash, bytes, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ProductID, s.ReleaseID, s.IPHash, s.Bytes, nullIfEmpty(s.UserAgent), s.CreatedAt.UTC())
	return err
}

func (r *DownloadStatRepository) CountByProduct(ctx context.Context, productID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_stats WHERE product_id = ?`, productID).Scan(&n)
	return n, err
}

// DownloadWindows are the lower bounds the dashboard counts from.
type DownloadWindows struct {
	Today time.Time
	Week  time.Time
	Month time.Time
}

// Dashboard aggregates download rows and release states for the admin
// overview. recentLimit and topLimit bound the two listings.
func (r *DownloadStatRepository) Dashboard(ctx context.Context, w DownloadWindows, recentLimit, topLimit int) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{
		RecentDownloads: []*models.RecentDownload{},
		TopProducts:     []*models.TopProduct{},
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN created_at >= ? THEN 1 END),
			COUNT(CASE WHEN created_at >= ? THEN 1 END),
			COUNT(CASE WHEN created_at >= ? THEN 1 END),
			COUNT(*)
		FROM download_stats
	`, w.Today.UTC(), w.Week.UTC(), w.Month.UTC()).Scan(
		&stats.DownloadsToday, &stats.DownloadsThisWeek, &stats.DownloadsThisMonth, &stats.TotalDownloads)
	if err != nil {
		return nil, fmt.Errorf("count downloads: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products WHERE status = ?),
			(SELECT COUNT(*) FROM releases WHERE scan_status IN (?, ?)),
			(SELECT COALESCE(SUM(file_size), 0) FROM releases WHERE scan_status = ?)
	`, string(models.ProductPublished), string(models.ScanPending), string(models.ScanScanning), string(models.ScanClean)).Scan(
		&stats.PublishedProducts, &stats.PendingScans, &stats.CleanStorageBytes)
	if err != nil {
		return nil, fmt.Errorf("count releases: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.title, r.version, ds.ip_hash, ds.created_at
		FROM download_stats ds
		JOIN products p ON p.id = ds.product_id
		JOIN releases r ON r.id = ds.release_id
		ORDER BY ds.created_at DESC, ds.id DESC
		LIMIT ?
	`, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent downloads: %w", err)
	}
	for rows.Next() {
		d := &models.RecentDownload{}
		if err := rows.Scan(&d.ProductTitle, &d.Version, &d.IPHash, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		stats.RecentDownloads = append(stats.RecentDownloads, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT p.id, p.slug, p.title, COUNT(ds.id) AS download_count
		FROM products p
		LEFT JOIN download_stats ds ON ds.product_id = p.id
		WHERE p.status = ?
		GROUP BY p.id, p.slug, p.title
		ORDER BY download_count DESC, p.slug
		LIMIT ?
	`, string(models.ProductPublished), topLimit)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := &models.TopProduct{}
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &p.DownloadCount); err != nil {
			return nil, err
		}
		stats.TopProducts = append(stats.TopProducts, p)
	}
	return stats, rows.Err()
}
