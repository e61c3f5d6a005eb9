package handler

import (
	"errors"

	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/logger"
	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors onto the response envelope. Messages are
// fixed per class so no internal detail reaches the caller.
func respondError(c *fiber.Ctx, err error) error {
	var limited *service.RateLimitError
	switch {
	case errors.As(err, &limited):
		return response.TooManyRequests(c, "too many requests", limited.RetryAfter, limited.ResetAt)
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.Error().Err(err).Str("path", c.Path()).Msg("Backing store unavailable")
		return response.ServiceUnavailable(c, "service temporarily unavailable")
	case service.IsAuthFailure(err), errors.Is(err, service.ErrAccountDisabled):
		return response.Unauthorized(c, "invalid or expired session")
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrSelfTarget):
		return response.Forbidden(c, "operation not permitted")
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNotPublished),
		errors.Is(err, service.ErrInvalidOrExpired):
		return response.NotFound(c, "not found")
	default:
		logger.Error().Err(err).Str("path", c.Path()).Msg("Unhandled request error")
		return response.InternalError(c, "internal server error")
	}
}
