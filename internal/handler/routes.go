package handler

import (
	"time"

	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	jsonBodyLimitBytes = 64 * 1024
	adminRateLimit     = 120
	adminRateWindow    = time.Minute
)

// Services is everything the HTTP surface calls into.
type Services struct {
	Auth      *service.AuthService
	Download  *service.DownloadService
	Stats     *service.StatsService
	Audit     *service.AuditService
	RateLimit *service.RateLimitService
	Health    *HealthHandler
}

// RegisterRoutes mounts the API under /api/v1 and the health probes at the
// root. Metrics are mounted by the caller since exposure depends on config.
func RegisterRoutes(app *fiber.App, cfg *config.Config, svc Services) {
	authHandler := NewAuthHandler(svc.Auth, cfg)
	downloadHandler := NewDownloadHandler(svc.Download)
	adminHandler := NewAdminHandler(svc.Auth, svc.Stats, svc.Audit)

	jsonBodyLimit := BodyLimitMiddleware(jsonBodyLimitBytes)
	requireAuth := AuthMiddleware(svc.Auth)
	csrf := CSRFMiddleware()

	// Login attempts are counted per client IP across both steps.
	loginLimiter := NewRateLimiter(svc.RateLimit, "login", cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)

	api := app.Group("/api/v1")

	auth := api.Group("/auth")
	auth.Post("/login", jsonBodyLimit, loginLimiter.Middleware(), authHandler.Login)
	auth.Put("/login", jsonBodyLimit, loginLimiter.Middleware(), authHandler.LoginSecondFactor)
	auth.Post("/logout", jsonBodyLimit, csrf, authHandler.Logout)
	auth.Get("/me", requireAuth, authHandler.GetMe)
	auth.Get("/2fa", requireAuth, authHandler.TwoFactorStatus)
	auth.Post("/2fa", jsonBodyLimit, requireAuth, csrf, authHandler.TwoFactor)
	auth.Post("/sessions/revoke-all", jsonBodyLimit, requireAuth, csrf, authHandler.RevokeAllSessions)

	// Download budgets are enforced inside the service on the hashed IP.
	api.Post("/download", jsonBodyLimit, downloadHandler.Request)
	api.Post("/download/redeem", jsonBodyLimit, downloadHandler.Redeem)

	adminLimiter := NewRateLimiterWithKey(svc.RateLimit, "admin", adminRateLimit, adminRateWindow, IPAndPrincipalKey)
	admin := api.Group("/admin", requireAuth, adminLimiter.Middleware())
	admin.Get("/stats", RequireRole(models.RoleEditor), adminHandler.GetStats)
	admin.Get("/audit", RequireRole(models.RoleSuperadmin), adminHandler.ListAudit)
	admin.Put("/principals/:id/disabled", jsonBodyLimit, RequireRole(models.RoleSuperadmin), csrf, adminHandler.SetPrincipalDisabled)

	if svc.Health != nil {
		app.Get("/health", svc.Health.Liveness)
		app.Get("/health/ready", svc.Health.Readiness)
	}
}
