package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    *sql.DB
	cache *redis.Client
}

func NewHealthHandler(db *sql.DB, cache *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		cache: cache,
	}
}

// Liveness returns basic liveness status (is the server running?)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// Readiness reports whether the durable store and Redis both answer.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]interface{})
	allHealthy := true

	for name, check := range map[string]func(context.Context) error{
		"database": h.checkDatabase,
		"redis":    h.checkCache,
	} {
		if err := check(ctx); err != nil {
			checks[name] = fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			allHealthy = false
			continue
		}
		checks[name] = fiber.Map{
			"status": "healthy",
		}
	}

	status := "ok"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return ErrDatabaseNotInitialized
	}
	return h.db.PingContext(ctx)
}

func (h *HealthHandler) checkCache(ctx context.Context) error {
	if h.cache == nil {
		return ErrCacheNotInitialized
	}
	return h.cache.Ping(ctx).Err()
}
