package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
)

// BearerTokenMiddleware protects an operator endpoint with a static token.
// An empty token disables the endpoint entirely.
func BearerTokenMiddleware(expectedToken string) fiber.Handler {
	expected := strings.TrimSpace(expectedToken)

	return func(c *fiber.Ctx) error {
		if expected == "" {
			return response.Forbidden(c, "endpoint is disabled")
		}

		parts := strings.SplitN(strings.TrimSpace(c.Get("Authorization")), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return response.Unauthorized(c, "missing or invalid authorization header")
		}

		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(expected)) != 1 {
			return response.Unauthorized(c, "invalid authorization token")
		}

		return c.Next()
	}
}
