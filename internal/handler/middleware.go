package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	localPrincipal   = "principal"
	localPrincipalID = "principal_id"
)

// SecurityHeadersMiddleware adds security-related headers to all responses
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Download tickets carry presigned URLs; nothing here may be cached.
		c.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		c.Set("Pragma", "no-cache")
		c.Set("Expires", "0")

		return c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals("request_id", requestID)

		return c.Next()
	}
}

// accessToken reads the bearer header first and falls back to the access
// cookie. A malformed header is an error even when the cookie is present.
func accessToken(c *fiber.Ctx) (string, bool) {
	authHeader := strings.TrimSpace(c.Get("Authorization"))
	if authHeader != "" {
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return parts[1], true
	}
	token := strings.TrimSpace(c.Cookies(accessTokenCookieName))
	return token, token != ""
}

// AuthMiddleware resolves the caller's session through the ledger on every
// request and stores the principal in locals.
func AuthMiddleware(authSvc *service.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := accessToken(c)
		if !ok {
			RecordAuthFailure("missing_token")
			return response.Unauthorized(c, "authentication required")
		}

		principal, err := authSvc.Authorize(c.UserContext(), token)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrStoreUnavailable):
				return respondError(c, err)
			case errors.Is(err, service.ErrAccountDisabled):
				RecordAuthFailure("account_disabled")
			case errors.Is(err, service.ErrSessionExpired):
				RecordAuthFailure("session_revoked")
			default:
				RecordAuthFailure("invalid_token")
			}
			return response.Unauthorized(c, "invalid or expired session")
		}

		c.Locals(localPrincipal, principal)
		c.Locals(localPrincipalID, principal.ID)

		return c.Next()
	}
}

// RequireRole rejects callers whose role ranks below required.
// Must be chained after AuthMiddleware.
func RequireRole(required models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := currentPrincipal(c)
		if principal == nil {
			return response.Unauthorized(c, "authentication required")
		}
		if !principal.Role.Satisfies(required) {
			return response.Forbidden(c, "insufficient role")
		}
		return c.Next()
	}
}

func currentPrincipal(c *fiber.Ctx) *models.Principal {
	p, _ := c.Locals(localPrincipal).(*models.Principal)
	return p
}

// CSRFMiddleware validates CSRF tokens for state-changing requests.
// The X-CSRF-Token header must echo the csrf_token cookie.
func CSRFMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := c.Method()
		if method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions {
			return c.Next()
		}

		csrfToken := c.Get("X-CSRF-Token")
		if csrfToken == "" {
			return response.Forbidden(c, "missing CSRF token")
		}

		expectedToken := c.Cookies(csrfCookieName)
		if expectedToken == "" || csrfToken != expectedToken {
			return response.Forbidden(c, "invalid CSRF token")
		}

		return c.Next()
	}
}

// BodyLimitMiddleware enforces a per-route body size limit.
func BodyLimitMiddleware(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return response.Error(c, fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}

// GenerateCSRFToken returns 256 bits of hex-encoded randomness.
func GenerateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func requestMeta(c *fiber.Ctx) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}
