package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/response"
	"github.com/gofiber/fiber/v2"
)

const (
	accessTokenCookieName  = "gg_access_token"
	refreshTokenCookieName = "gg_refresh_token"
	csrfCookieName         = "csrf_token"
	csrfCookieMaxAge       = 24 * time.Hour
)

const (
	tfaActionSetup   = "setup"
	tfaActionVerify  = "verify"
	tfaActionDisable = "disable"
)

type AuthHandler struct {
	authSvc *service.AuthService
	config  *config.Config
}

func NewAuthHandler(authSvc *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, config: cfg}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type SecondFactorLoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	TOTPCode string `json:"totpCode" validate:"required,len=6,numeric"`
}

type TwoFactorRequest struct {
	Action string `json:"action" validate:"required,oneof=setup verify disable"`
	Token  string `json:"token" validate:"omitempty,len=6,numeric"`
}

type AuthResponse struct {
	Token                string               `json:"token,omitempty"`
	CSRFToken            string               `json:"csrf_token,omitempty"`
	Session              *models.SessionGrant `json:"session,omitempty"`
	SecondFactorRequired bool                 `json:"second_factor_required,omitempty"`
	Email                string               `json:"email,omitempty"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (h *AuthHandler) setCookie(c *fiber.Ctx, name, value string, maxAge time.Duration, httpOnly bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		HTTPOnly: httpOnly,
		Secure:   h.config.Auth.CookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
	})
}

func (h *AuthHandler) clearCookie(c *fiber.Ctx, name string, httpOnly bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		HTTPOnly: httpOnly,
		Secure:   h.config.Auth.CookieSecure,
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// setSessionCookies writes the token cookies plus a fresh CSRF cookie. The
// CSRF cookie must stay readable by the dashboard script.
func (h *AuthHandler) setSessionCookies(c *fiber.Ctx, grant *models.SessionGrant) string {
	h.setCookie(c, accessTokenCookieName, grant.AccessToken, h.config.Auth.AccessTokenTTL, true)
	h.setCookie(c, refreshTokenCookieName, grant.RefreshToken, h.config.Auth.RefreshTokenTTL, true)

	csrfToken := GenerateCSRFToken()
	h.setCookie(c, csrfCookieName, csrfToken, csrfCookieMaxAge, false)
	return csrfToken
}

func (h *AuthHandler) clearSessionCookies(c *fiber.Ctx) {
	h.clearCookie(c, accessTokenCookieName, true)
	h.clearCookie(c, refreshTokenCookieName, true)
	h.clearCookie(c, csrfCookieName, false)
}

func (h *AuthHandler) sessionResponse(c *fiber.Ctx, grant *models.SessionGrant) error {
	csrfToken := h.setSessionCookies(c, grant)
	return response.Success(c, AuthResponse{
		Token:     grant.AccessToken,
		CSRFToken: csrfToken,
		Session:   grant,
	})
}

// loginError keeps every credential failure on one generic 401 and only
// singles out disabled accounts.
func loginError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAccountDisabled):
		RecordAuthFailure("account_disabled")
		return response.Forbidden(c, "account disabled")
	case service.IsAuthFailure(err):
		RecordAuthFailure("invalid_credentials")
		return response.Unauthorized(c, "invalid credentials")
	default:
		return respondError(c, err)
	}
}

// Login handles the password step.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	email := normalizeEmail(req.Email)
	result, err := h.authSvc.Authenticate(c.UserContext(), email, req.Password, requestMeta(c))
	if err != nil {
		return loginError(c, err)
	}

	if result.SecondFactorRequired {
		return response.Success(c, AuthResponse{
			SecondFactorRequired: true,
			Email:                email,
		})
	}
	return h.sessionResponse(c, result.Session)
}

// LoginSecondFactor finishes a login that was answered with a challenge.
func (h *AuthHandler) LoginSecondFactor(c *fiber.Ctx) error {
	var req SecondFactorLoginRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}

	grant, err := h.authSvc.CompleteSecondFactor(c.UserContext(), normalizeEmail(req.Email), req.TOTPCode, requestMeta(c))
	if err != nil {
		if errors.Is(err, service.ErrAccountDisabled) {
			// The password step already told this caller; the code step stays generic.
			err = service.ErrInvalidCredentials
		}
		return loginError(c, err)
	}
	return h.sessionResponse(c, grant)
}

// Logout always clears the cookies. A store failure is still reported so
// callers relying on bearer tokens know the session may survive.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, _ := accessToken(c)
	h.clearSessionCookies(c)

	if err := h.authSvc.Logout(c.UserContext(), token, requestMeta(c)); err != nil {
		return respondError(c, errors.Join(service.ErrStoreUnavailable, err))
	}
	return response.Success(c, fiber.Map{"ok": true})
}

func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	principal := currentPrincipal(c)
	if principal == nil {
		return response.Unauthorized(c, "authentication required")
	}
	return response.Success(c, principal)
}

// TwoFactor dispatches setup, verify and disable.
func (h *AuthHandler) TwoFactor(c *fiber.Ctx) error {
	principal := currentPrincipal(c)
	if principal == nil {
		return response.Unauthorized(c, "authentication required")
	}

	var req TwoFactorRequest
	if err := bindJSON(c, &req); err != nil {
		return response.BadRequest(c, err.Error())
	}
	ctx := c.UserContext()

	switch req.Action {
	case tfaActionSetup:
		enrollment, err := h.authSvc.EnrollSecondFactor(ctx, principal.ID)
		if err != nil {
			return respondError(c, err)
		}
		return response.Success(c, enrollment)

	case tfaActionVerify:
		if req.Token == "" {
			return response.BadRequest(c, "field 'token' is required")
		}
		if err := h.authSvc.ConfirmSecondFactor(ctx, principal.ID, req.Token, requestMeta(c)); err != nil {
			return twoFactorError(c, err)
		}
		return response.Success(c, fiber.Map{"enabled": true})

	case tfaActionDisable:
		if req.Token == "" {
			return response.BadRequest(c, "field 'token' is required")
		}
		if err := h.authSvc.DisableSecondFactor(ctx, principal.ID, req.Token, requestMeta(c)); err != nil {
			return twoFactorError(c, err)
		}
		return response.Success(c, fiber.Map{"enabled": false})

	default:
		return response.BadRequest(c, "invalid action")
	}
}

func twoFactorError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotEnrolled):
		return response.BadRequest(c, "second factor setup not started")
	case errors.Is(err, service.ErrNotEnabled):
		return response.BadRequest(c, "second factor not enabled")
	case errors.Is(err, service.ErrInvalidCode):
		RecordAuthFailure("invalid_totp")
		return response.Unauthorized(c, "invalid verification code")
	default:
		return respondError(c, err)
	}
}

func (h *AuthHandler) TwoFactorStatus(c *fiber.Ctx) error {
	principal := currentPrincipal(c)
	if principal == nil {
		return response.Unauthorized(c, "authentication required")
	}
	enabled, err := h.authSvc.SecondFactorStatus(c.UserContext(), principal.ID)
	if err != nil {
		return respondError(c, err)
	}
	return response.Success(c, fiber.Map{"enabled": enabled})
}

// RevokeAllSessions signs the caller out everywhere, this session included.
func (h *AuthHandler) RevokeAllSessions(c *fiber.Ctx) error {
	principal := currentPrincipal(c)
	if principal == nil {
		return response.Unauthorized(c, "authentication required")
	}
	n, err := h.authSvc.RevokeAllSessions(c.UserContext(), principal.ID, requestMeta(c))
	if err != nil {
		return respondError(c, errors.Join(service.ErrStoreUnavailable, err))
	}
	h.clearSessionCookies(c)
	return response.Success(c, fiber.Map{"revoked": n})
}
