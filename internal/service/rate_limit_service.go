package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/pkg/logger"
)

// RateLimitStore is the atomic counter primitive behind the limiter.
type RateLimitStore interface {
	Increment(ctx context.Context, key string, windowStart int64, ttl time.Duration) (int64, error)
}

// RateLimitService is a fixed-window limiter. Windows are aligned to
// multiples of the window size since the Unix epoch.
type RateLimitService struct {
	store     RateLimitStore
	opTimeout time.Duration
	now       func() time.Time
}

func NewRateLimitService(store RateLimitStore, opTimeout time.Duration) *RateLimitService {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RateLimitService{store: store, opTimeout: opTimeout, now: time.Now}
}

func (s *RateLimitService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Check counts one hit against key and reports whether it fits in limit.
// A store failure is returned as ErrStoreUnavailable and must be treated as
// a denial.
func (s *RateLimitService) Check(ctx context.Context, key string, limit int, window time.Duration) (models.RateLimitResult, error) {
	ws := int64(window / time.Second)
	if ws <= 0 {
		return models.RateLimitResult{}, fmt.Errorf("rate limit window must be at least one second, got %s", window)
	}
	if limit < 1 {
		return models.RateLimitResult{}, fmt.Errorf("rate limit must be at least 1, got %d", limit)
	}

	nowUnix := s.now().Unix()
	windowStart := nowUnix - nowUnix%ws
	result := models.RateLimitResult{
		Limit:   limit,
		ResetAt: time.Unix(windowStart+ws, 0).UTC(),
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.store.Increment(opCtx, key, windowStart, time.Duration(ws)*time.Second)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result.Allowed = count <= int64(limit)
	if remaining := int64(limit) - count; remaining > 0 {
		result.Remaining = int(remaining)
	}
	return result, nil
}

// Enforce runs Check and converts a denial into a *RateLimitError. scope
// labels the budget in metrics and logs; key must already be free of raw
// client IPs where that matters to the caller.
func (s *RateLimitService) Enforce(ctx context.Context, scope, key string, limit int, window time.Duration) (models.RateLimitResult, error) {
	result, err := s.Check(ctx, key, limit, window)
	if err != nil {
		rateLimitDecisions.WithLabelValues(scope, "error").Inc()
		logger.Error().Err(err).Str("scope", scope).Msg("Rate limit check failed, denying request")
		return result, err
	}
	if !result.Allowed {
		rateLimitDecisions.WithLabelValues(scope, "denied").Inc()
		return result, &RateLimitError{
			Scope:      scope,
			Limit:      result.Limit,
			Remaining:  result.Remaining,
			ResetAt:    result.ResetAt,
			RetryAfter: result.ResetAt.Sub(s.now()),
		}
	}
	rateLimitDecisions.WithLabelValues(scope, "allowed").Inc()
	return result, nil
}

// RateLimitKey joins key parts with ':'.
func RateLimitKey(parts ...string) string {
	return strings.Join(parts, ":")
}
