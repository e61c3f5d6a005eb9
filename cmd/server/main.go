package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/handler"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/internal/storage"
	"github.com/gamingglow/portal/pkg/cache"
	"github.com/gamingglow/portal/pkg/database"
	"github.com/gamingglow/portal/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const sessionSweepInterval = time.Hour

func main() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stdout,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration error")
	}

	logger.Info().
		Str("bind_address", cfg.Server.BindAddress).
		Str("port", cfg.Server.Port).
		Str("log_level", cfg.Observability.LogLevel).
		Bool("production", cfg.IsProduction).
		Msg("Starting GamingGlow portal server")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.InitSchema(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize schema")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	redisClient, err := cache.Connect(startupCtx, cfg.Redis.URL, cfg.Redis.OpTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	logger.Info().Msg("Redis connected")

	presigner, err := storage.New(startupCtx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize object storage presigner")
	}
	logger.Info().
		Str("driver", cfg.Storage.Driver).
		Str("bucket", cfg.Storage.Bucket).
		Msg("Object storage presigner ready")

	// Repositories
	principalRepo := repository.NewPrincipalRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	releaseRepo := repository.NewReleaseRepository(db)
	downloadStatRepo := repository.NewDownloadStatRepository(db)
	rateLimitRepo := repository.NewRateLimitRepository(redisClient)
	grantRepo := repository.NewGrantRepository(redisClient)
	counterRepo := repository.NewDownloadCounterRepository(redisClient)

	// Services
	auditSvc := service.NewAuditService(auditRepo, 0)
	rateLimitSvc := service.NewRateLimitService(rateLimitRepo, cfg.Redis.OpTimeout)
	authSvc, err := service.NewAuthService(principalRepo, sessionRepo, auditSvc, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize auth service")
	}
	downloadSvc := service.NewDownloadService(rateLimitSvc, releaseRepo, presigner, grantRepo, counterRepo, downloadStatRepo, auditSvc, cfg)
	statsSvc := service.NewStatsService(counterRepo, downloadStatRepo)

	app := fiber.New(fiber.Config{
		BodyLimit:               1 * 1024 * 1024,
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            30 * time.Second,
		IdleTimeout:             60 * time.Second,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.Server.TrustedProxies,
		EnableIPValidation:      true,
	})

	logger.Info().
		Strs("trusted_proxies", cfg.Server.TrustedProxies).
		Msg("Trusted proxy configuration loaded")

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
	app.Use(handler.SecurityHeadersMiddleware())
	app.Use(handler.RequestIDMiddleware())
	app.Use(handler.MetricsMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, OPTIONS",
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	app.Use(logger.Middleware())

	handler.RegisterRoutes(app, cfg, handler.Services{
		Auth:      authSvc,
		Download:  downloadSvc,
		Stats:     statsSvc,
		Audit:     auditSvc,
		RateLimit: rateLimitSvc,
		Health:    handler.NewHealthHandler(db, redisClient),
	})

	metricsHandler := handler.NewMetricsHandler()
	if cfg.Observability.MetricsEnabled {
		if cfg.IsProduction {
			app.Get("/metrics", handler.BearerTokenMiddleware(cfg.Observability.MetricsToken), metricsHandler.Handler())
		} else {
			app.Get("/metrics", metricsHandler.Handler())
		}
	} else {
		logger.Info().Msg("Metrics endpoint disabled")
	}

	// Expired sessions are already rejected by the ledger lookup; the sweep
	// only keeps the table small.
	sweepStop := make(chan struct{})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				n, err := authSvc.SweepExpiredSessions(ctx)
				cancel()
				if err != nil {
					logger.Error().Err(err).Msg("Failed to sweep expired sessions")
					continue
				}
				logger.Info().Int64("deleted", n).Msg("Expired session sweep completed")
			case <-sweepStop:
				return
			}
		}
	}()

	go func() {
		addr := net.JoinHostPort(cfg.Server.BindAddress, cfg.Server.Port)
		logger.Info().
			Str("address", addr).
			Bool("metrics_enabled", cfg.Observability.MetricsEnabled).
			Msg("HTTP server listening")
		if err := app.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info().Msg("Stopping background jobs...")
	close(sweepStop)
	<-sweepDone

	logger.Info().Msg("Shutting down HTTP server...")
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	logger.Info().Msg("Closing Redis connection...")
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing Redis")
	}

	logger.Info().Msg("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing database")
	}

	logger.Info().Msg("Server stopped gracefully")
}
