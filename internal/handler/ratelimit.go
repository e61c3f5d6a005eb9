package handler

import (
	"strconv"
	"time"

	"github.com/gamingglow/portal/internal/service"
	"github.com/gofiber/fiber/v2"
)

// KeyFunc extracts the identity a request is counted against.
type KeyFunc func(c *fiber.Ctx) string

// RateLimiter is route middleware over the shared fixed-window limiter.
// Counters live in Redis, so every replica sees the same budget.
type RateLimiter struct {
	limiter *service.RateLimitService
	scope   string
	limit   int
	window  time.Duration
	keyFunc KeyFunc
}

func NewRateLimiter(limiter *service.RateLimitService, scope string, limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithKey(limiter, scope, limit, window, defaultKeyFunc)
}

func NewRateLimiterWithKey(limiter *service.RateLimitService, scope string, limit int, window time.Duration, keyFunc KeyFunc) *RateLimiter {
	if keyFunc == nil {
		keyFunc = defaultKeyFunc
	}
	return &RateLimiter{
		limiter: limiter,
		scope:   scope,
		limit:   limit,
		window:  window,
		keyFunc: keyFunc,
	}
}

// IPAndPrincipalKey combines the client IP with the authenticated principal
// so one operator cannot exhaust a shared office IP for everyone else.
func IPAndPrincipalKey(c *fiber.Ctx) string {
	principalID, _ := c.Locals(localPrincipalID).(string)
	if principalID == "" {
		return c.IP()
	}
	return c.IP() + ":" + principalID
}

func defaultKeyFunc(c *fiber.Ctx) string {
	return c.IP()
}

// Middleware denies over-budget requests with 429 and denies with 503 when
// the counter store cannot be reached.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := service.RateLimitKey(rl.scope, rl.keyFunc(c))
		result, err := rl.limiter.Enforce(c.UserContext(), rl.scope, key, rl.limit, rl.window)
		if err != nil {
			return respondError(c, err)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		return c.Next()
	}
}
