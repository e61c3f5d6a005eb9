package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gamingglow/portal/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix    = "ratelimit:"
	grantPrefix        = "dl_token:"
	statsDailyPrefix   = "stats:downloads:daily:"
	statsHourlyPrefix  = "stats:downloads:hourly:"
	statsTotalPrefix   = "stats:downloads:total:"
	statsReleasePrefix = "stats:downloads:release:"

	dailyBucketTTL  = 30 * 24 * time.Hour
	hourlyBucketTTL = 24 * time.Hour
)

var (
	// ErrGrantNotFound covers unknown, already redeemed and expired tokens
	// alike; the store keeps nothing that tells them apart.
	ErrGrantNotFound = errors.New("download grant not found")
	// ErrGrantExists is returned if a freshly minted token collides.
	ErrGrantExists = errors.New("download grant already exists")
)

// RateLimitRepository keeps fixed-window counters in Redis.
type RateLimitRepository struct {
	client *redis.Client
}

func NewRateLimitRepository(client *redis.Client) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Increment bumps the counter for (key, windowStart) and refreshes its TTL
// inside one MULTI/EXEC, returning the post-increment count.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, windowStart int64, ttl time.Duration) (int64, error) {
	redisKey := rateLimitPrefix + key + ":" + strconv.FormatInt(windowStart, 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment rate limit window: %w", err)
	}
	return incr.Val(), nil
}

// GrantRepository stores one-time download grants.
type GrantRepository struct {
	client *redis.Client
}

func NewGrantRepository(client *redis.Client) *GrantRepository {
	return &GrantRepository{client: client}
}

func (r *GrantRepository) Put(ctx context.Context, g *models.DownloadGrant, ttl time.Duration) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	ok, err := r.client.SetNX(ctx, grantPrefix+g.Token, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store grant: %w", err)
	}
	if !ok {
		return ErrGrantExists
	}
	return nil
}

// Take reads and deletes the grant with a single GETDEL, so at most one
// caller ever receives it.
func (r *GrantRepository) Take(ctx context.Context, token string) (*models.DownloadGrant, error) {
	raw, err := r.client.GetDel(ctx, grantPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take grant: %w", err)
	}

	g := &models.DownloadGrant{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("decode grant: %w", err)
	}
	g.Token = token
	return g, nil
}

// DownloadCounterRepository keeps per-product and per-release counters plus
// daily and hourly buckets for reporting.
type DownloadCounterRepository struct {
	client *redis.Client
}

func NewDownloadCounterRepository(client *redis.Client) *DownloadCounterRepository {
	return &DownloadCounterRepository{client: client}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (r *DownloadCounterRepository) Increment(ctx context.Context, productID, releaseID string, now time.Time) error {
	day := dayKey(now)
	hour := fmt.Sprintf("%s:%02d", day, now.UTC().Hour())

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, statsDailyPrefix+day, productID, 1)
		pipe.Expire(ctx, statsDailyPrefix+day, dailyBucketTTL)
		pipe.HIncrBy(ctx, statsHourlyPrefix+hour, productID, 1)
		pipe.Expire(ctx, statsHourlyPrefix+hour, hourlyBucketTTL)
		pipe.Incr(ctx, statsTotalPrefix+productID)
		pipe.Incr(ctx, statsReleasePrefix+releaseID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment download counters: %w", err)
	}
	return nil
}

// Daily returns one count per day for the last days days ending at now,
// oldest first. Missing buckets count as zero.
func (r *DownloadCounterRepository) Daily(ctx context.Context, productID string, days int, now time.Time) ([]models.DailyCount, error) {
	if days <= 0 {
		return []models.DailyCount{}, nil
	}

	cmds := make([]*redis.StringCmd, days)
	out := make([]models.DailyCount, days)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < days; i++ {
			day := dayKey(now.AddDate(0, 0, -(days - 1 - i)))
			out[i].Date = day
			cmds[i] = pipe.HGet(ctx, statsDailyPrefix+day, productID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read daily counters: %w", err)
	}

	for i, cmd := range cmds {
		n, cmdErr := cmd.Int64()
		switch {
		case cmdErr == nil:
			out[i].Count = n
		case errors.Is(cmdErr, redis.Nil):
		default:
			return nil, fmt.Errorf("read daily counter %s: %w", out[i].Date, cmdErr)
		}
	}
	return out, nil
}

func (r *DownloadCounterRepository) Total(ctx context.Context, productID string) (int64, error) {
	return r.counter(ctx, statsTotalPrefix+productID)
}

func (r *DownloadCounterRepository) ReleaseTotal(ctx context.Context, releaseID string) (int64, error) {
	return r.counter(ctx, statsReleasePrefix+releaseID)
}

func (r *DownloadCounterRepository) counter(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return n, nil
}
