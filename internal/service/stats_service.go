package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
)

const (
	defaultStatsDays = 30
	// Daily buckets expire after 30 days, so older days would read as zero.
	maxStatsDays = 30

	dashboardRecentLimit = 10
	dashboardTopLimit    = 5
)

type DownloadCounterReader interface {
	Daily(ctx context.Context, productID string, days int, now time.Time) ([]models.DailyCount, error)
	Total(ctx context.Context, productID string) (int64, error)
}

type DownloadStatCounter interface {
	CountByProduct(ctx context.Context, productID string) (int64, error)
	Dashboard(ctx context.Context, w repository.DownloadWindows, recentLimit, topLimit int) (*models.DashboardStats, error)
}

type StatsService struct {
	counters DownloadCounterReader
	stats    DownloadStatCounter
	now      func() time.Time
}

func NewStatsService(counters DownloadCounterReader, stats DownloadStatCounter) *StatsService {
	return &StatsService{counters: counters, stats: stats, now: time.Now}
}

func (s *StatsService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ProductDownloads reports per-day counts for the last days days (default
// and maximum 30), the all-time counter and the durable row count.
func (s *StatsService) ProductDownloads(ctx context.Context, productID string, days int) (*models.ProductDownloadStats, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrNotFound
	}
	if days <= 0 {
		days = defaultStatsDays
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	daily, err := s.counters.Daily(ctx, productID, days, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: daily counters: %v", ErrStoreUnavailable, err)
	}
	total, err := s.counters.Total(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: total counter: %v", ErrStoreUnavailable, err)
	}
	recorded, err := s.stats.CountByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("count download stats: %w", err)
	}

	return &models.ProductDownloadStats{
		ProductID: productID,
		Days:      daily,
		Total:     total,
		Recorded:  recorded,
	}, nil
}

// Dashboard reports catalog-wide download totals for today (UTC), the last
// 7 and 30 days and all time, plus recent downloads, the top published
// products and releases still waiting on a scan.
func (s *StatsService) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	now := s.now().UTC()
	w := repository.DownloadWindows{
		Today: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Week:  now.Add(-7 * 24 * time.Hour),
		Month: now.Add(-30 * 24 * time.Hour),
	}
	stats, err := s.stats.Dashboard(ctx, w, dashboardRecentLimit, dashboardTopLimit)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return stats, nil
}
