package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds a Redis client from a redis:// (or rediss://) URL or a bare
// host:port, applies opTimeout to every read and write, and pings once.
func Connect(ctx context.Context, redisURL string, opTimeout time.Duration) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: redisURL}
	}

	if opTimeout > 0 {
		opt.DialTimeout = 4 * opTimeout
		opt.ReadTimeout = opTimeout
		opt.WriteTimeout = opTimeout
		opt.PoolTimeout = 2 * opTimeout
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
