package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Auth          AuthConfig
	Download      DownloadConfig
	Observability ObservabilityConfig
	IsProduction  bool
}

type ServerConfig struct {
	BindAddress    string
	Port           string
	AllowOrigins   string
	TrustedProxies []string
}

type DatabaseConfig struct {
	Path string
}

type RedisConfig struct {
	URL string
	// OpTimeout bounds every rate-limit, grant and counter round-trip.
	OpTimeout time.Duration
}

type StorageConfig struct {
	// Driver selects the presigning backend: "s3" or "minio".
	Driver          string
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type AuthConfig struct {
	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	SessionTTL       time.Duration
	TOTPIssuer       string
	BcryptCost       int
	LoginRateLimit   int
	LoginRateWindow  time.Duration
	CookieSecure     bool
}

type DownloadConfig struct {
	IPHashSecret string
	URLTTL       time.Duration
	GlobalLimit  int
	ProductLimit int
	Window       time.Duration
}

type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	MetricsToken   string
}

const (
	defaultAllowOrigins = "http://localhost:3000"
	minSecretLength     = 32
)

func Load() *Config {
	loadDotEnvIfPresent()

	isProd := getEnv("ENVIRONMENT", "development") == "production"
	defaultSecret := ""
	if !isProd {
		defaultSecret = "dev-secret-change-in-production"
	}
	jwtSecret := strings.TrimSpace(getEnv("JWT_SECRET", defaultSecret))
	refreshSecret := strings.TrimSpace(getEnv("JWT_REFRESH_SECRET", ""))
	ipHashSecret := strings.TrimSpace(getEnv("IP_HASH_SECRET", ""))
	if !isProd {
		if refreshSecret == "" {
			refreshSecret = deriveDevSecret("refresh", jwtSecret)
		}
		if ipHashSecret == "" {
			ipHashSecret = deriveDevSecret("ip-hash", jwtSecret)
		}
	}

	defaultBindAddress := "0.0.0.0"
	if isProd {
		// In production we default to loopback and rely on a reverse proxy.
		defaultBindAddress = "127.0.0.1"
	}

	return &Config{
		IsProduction: isProd,
		Server: ServerConfig{
			BindAddress:    getEnv("SERVER_BIND_ADDRESS", defaultBindAddress),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowOrigins:   getEnv("ALLOW_ORIGINS", defaultAllowOrigins),
			TrustedProxies: splitCSV(getEnv("TRUSTED_PROXIES", "127.0.0.1,::1")),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./storage/portal.db"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "localhost:6379"),
			OpTimeout: time.Duration(getEnvInt("REDIS_OP_TIMEOUT_MS", 250)) * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", "s3")),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          getEnv("S3_BUCKET_NAME", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UseSSL:          getEnvBool("S3_USE_SSL", true),
		},
		Auth: AuthConfig{
			JWTSecret:        jwtSecret,
			JWTRefreshSecret: refreshSecret,
			AccessTokenTTL:   getEnvDuration("JWT_EXPIRY", 15*time.Minute),
			RefreshTokenTTL:  getEnvDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			SessionTTL:       getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			TOTPIssuer:       getEnv("TOTP_ISSUER", "GAMINGGLOW"),
			BcryptCost:       getEnvInt("BCRYPT_COST", 12),
			LoginRateLimit:   getEnvInt("LOGIN_RATE_LIMIT", 5),
			LoginRateWindow:  getEnvDuration("LOGIN_RATE_WINDOW", 300*time.Second),
			CookieSecure:     getEnvBool("COOKIE_SECURE", isProd),
		},
		Download: DownloadConfig{
			IPHashSecret: ipHashSecret,
			URLTTL:       getEnvDuration("DOWNLOAD_URL_TTL", 1800*time.Second),
			GlobalLimit:  getEnvInt("DOWNLOAD_GLOBAL_LIMIT", 50),
			ProductLimit: getEnvInt("DOWNLOAD_PRODUCT_LIMIT", 10),
			Window:       getEnvDuration("DOWNLOAD_WINDOW", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", !isProd),
			MetricsToken:   strings.TrimSpace(getEnv("METRICS_TOKEN", "")),
		},
	}
}

func deriveDevSecret(purpose, jwtSecret string) string {
	sum := sha256.Sum256([]byte("portal-dev-" + purpose + ":" + jwtSecret))
	return hex.EncodeToString(sum[:])
}

// Validate checks that the configuration is valid for the current environment.
// In production, it enforces stricter requirements.
func (c *Config) Validate() error {
	if c.IsProduction {
		secrets := []struct {
			name  string
			value string
		}{
			{"JWT_SECRET", c.Auth.JWTSecret},
			{"JWT_REFRESH_SECRET", c.Auth.JWTRefreshSecret},
			{"IP_HASH_SECRET", c.Download.IPHashSecret},
		}
		for _, s := range secrets {
			if s.value == "" {
				return fmt.Errorf("%s environment variable is required in production", s.name)
			}
			if len(s.value) < minSecretLength {
				return fmt.Errorf("%s must be at least %d characters in production", s.name, minSecretLength)
			}
		}
		if c.Auth.JWTRefreshSecret == c.Auth.JWTSecret {
			return errors.New("JWT_REFRESH_SECRET must be different from JWT_SECRET in production")
		}
		if c.Download.IPHashSecret == c.Auth.JWTSecret || c.Download.IPHashSecret == c.Auth.JWTRefreshSecret {
			return errors.New("IP_HASH_SECRET must be different from the JWT secrets in production")
		}
		if c.Server.AllowOrigins == defaultAllowOrigins {
			return errors.New("ALLOW_ORIGINS must be configured for production (localhost not allowed)")
		}
		if c.Server.AllowOrigins == "*" {
			return errors.New("ALLOW_ORIGINS must not be wildcard (*) in production")
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("S3_BUCKET_NAME environment variable is required in production")
		}
		if !c.Auth.CookieSecure {
			return errors.New("COOKIE_SECURE must be true in production")
		}
		if c.Observability.MetricsEnabled && c.Observability.MetricsToken == "" {
			return errors.New("METRICS_TOKEN is required in production when METRICS_ENABLED=true")
		}
	}

	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return errors.New("SERVER_BIND_ADDRESS must not be empty")
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.New("SERVER_PORT must be a valid port number (1-65535)")
	}

	switch c.Storage.Driver {
	case "s3", "minio":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be s3 or minio, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "minio" && strings.TrimSpace(c.Storage.Endpoint) == "" {
		return errors.New("S3_ENDPOINT is required when STORAGE_DRIVER=minio")
	}

	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return errors.New("BCRYPT_COST must be between 10 and 31")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.SessionTTL <= 0 {
		return errors.New("JWT_EXPIRY, JWT_REFRESH_EXPIRY and SESSION_TTL must be positive")
	}
	if c.Auth.LoginRateLimit < 1 || c.Auth.LoginRateWindow < time.Second {
		return errors.New("LOGIN_RATE_LIMIT must be >= 1 and LOGIN_RATE_WINDOW >= 1s")
	}
	if c.Download.GlobalLimit < 1 || c.Download.ProductLimit < 1 {
		return errors.New("DOWNLOAD_GLOBAL_LIMIT and DOWNLOAD_PRODUCT_LIMIT must be >= 1")
	}
	if c.Download.Window < time.Second {
		return errors.New("DOWNLOAD_WINDOW must be at least 1s")
	}
	// S3 presigned URLs are capped at seven days.
	if c.Download.URLTTL < time.Second || c.Download.URLTTL > 7*24*time.Hour {
		return errors.New("DOWNLOAD_URL_TTL must be between 1s and 168h")
	}
	if c.Redis.OpTimeout <= 0 {
		return errors.New("REDIS_OP_TIMEOUT_MS must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration syntax ("15m") or a bare number of
// seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func loadDotEnvIfPresent() {
	// #nosec G304 -- fixed application dotenv location.
	content, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, rawLine := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
