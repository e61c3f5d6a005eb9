package config

import (
	"strings"
	"testing"
	"time"
)

func baseProdConfig() *Config {
	return &Config{
		IsProduction: true,
		Server: ServerConfig{
			BindAddress:  "127.0.0.1",
			Port:         "8080",
			AllowOrigins: "https://portal.example.com",
		},
		Redis: RedisConfig{URL: "redis://cache:6379/0", OpTimeout: 250 * time.Millisecond},
		Storage: StorageConfig{
			Driver: "s3",
			Region: "us-east-1",
			Bucket: "releases",
		},
		Auth: AuthConfig{
			JWTSecret:        strings.Repeat("a", 32),
			JWTRefreshSecret: strings.Repeat("b", 32),
			AccessTokenTTL:   15 * time.Minute,
			RefreshTokenTTL:  7 * 24 * time.Hour,
			SessionTTL:       7 * 24 * time.Hour,
			BcryptCost:       12,
			LoginRateLimit:   5,
			LoginRateWindow:  300 * time.Second,
			CookieSecure:     true,
		},
		Download: DownloadConfig{
			IPHashSecret: strings.Repeat("c", 32),
			URLTTL:       30 * time.Minute,
			GlobalLimit:  50,
			ProductLimit: 10,
			Window:       time.Hour,
		},
	}
}

func TestValidate_ProductionBaselinePasses(t *testing.T) {
	if err := baseProdConfig().Validate(); err != nil {
		t.Fatalf("expected config to validate, got: %v", err)
	}
}

func TestValidate_ProductionRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "missing ip hash secret",
			mutate:  func(c *Config) { c.Download.IPHashSecret = "" },
			wantErr: "IP_HASH_SECRET",
		},
		{
			name:    "refresh secret reused",
			mutate:  func(c *Config) { c.Auth.JWTRefreshSecret = c.Auth.JWTSecret },
			wantErr: "JWT_REFRESH_SECRET must be different",
		},
		{
			name:    "ip hash secret reused",
			mutate:  func(c *Config) { c.Download.IPHashSecret = c.Auth.JWTSecret },
			wantErr: "IP_HASH_SECRET must be different",
		},
		{
			name:    "wildcard origin",
			mutate:  func(c *Config) { c.Server.AllowOrigins = "*" },
			wantErr: "wildcard",
		},
		{
			name:    "localhost origin",
			mutate:  func(c *Config) { c.Server.AllowOrigins = defaultAllowOrigins },
			wantErr: "ALLOW_ORIGINS",
		},
		{
			name:    "missing bucket",
			mutate:  func(c *Config) { c.Storage.Bucket = "" },
			wantErr: "S3_BUCKET_NAME",
		},
		{
			name:    "insecure cookies",
			mutate:  func(c *Config) { c.Auth.CookieSecure = false },
			wantErr: "COOKIE_SECURE",
		},
		{
			name: "metrics without token",
			mutate: func(c *Config) {
				c.Observability.MetricsEnabled = true
				c.Observability.MetricsToken = ""
			},
			wantErr: "METRICS_TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseProdConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_GeneralRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty bind address", func(c *Config) { c.Server.BindAddress = "" }, "SERVER_BIND_ADDRESS"},
		{"bad port", func(c *Config) { c.Server.Port = "99999" }, "SERVER_PORT"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "gcs" }, "STORAGE_DRIVER"},
		{"minio without endpoint", func(c *Config) { c.Storage.Driver = "minio"; c.Storage.Endpoint = "" }, "S3_ENDPOINT"},
		{"low bcrypt cost", func(c *Config) { c.Auth.BcryptCost = 4 }, "BCRYPT_COST"},
		{"zero product limit", func(c *Config) { c.Download.ProductLimit = 0 }, "DOWNLOAD_PRODUCT_LIMIT"},
		{"url ttl too long", func(c *Config) { c.Download.URLTTL = 8 * 24 * time.Hour }, "DOWNLOAD_URL_TTL"},
		{"zero redis timeout", func(c *Config) { c.Redis.OpTimeout = 0 }, "REDIS_OP_TIMEOUT_MS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseProdConfig()
			cfg.IsProduction = false
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg := Load()

	if cfg.IsProduction {
		t.Fatal("expected development environment")
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.BcryptCost != 12 || cfg.Auth.LoginRateLimit != 5 || cfg.Auth.LoginRateWindow != 300*time.Second {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Download.URLTTL != 30*time.Minute || cfg.Download.GlobalLimit != 50 || cfg.Download.ProductLimit != 10 || cfg.Download.Window != time.Hour {
		t.Fatalf("unexpected download defaults: %+v", cfg.Download)
	}
	if cfg.Redis.OpTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected redis timeout %v", cfg.Redis.OpTimeout)
	}
	if cfg.Auth.JWTRefreshSecret == "" || cfg.Auth.JWTRefreshSecret == cfg.Auth.JWTSecret {
		t.Fatal("expected a derived, distinct development refresh secret")
	}
	if cfg.Download.IPHashSecret == "" || cfg.Download.IPHashSecret == cfg.Auth.JWTRefreshSecret {
		t.Fatal("expected a derived, distinct development ip hash secret")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected development defaults to validate, got: %v", err)
	}
}

func TestLoad_DurationFormats(t *testing.T) {
	t.Setenv("JWT_EXPIRY", "20m")
	t.Setenv("LOGIN_RATE_WINDOW", "60")
	t.Setenv("DOWNLOAD_URL_TTL", "not-a-duration")

	cfg := Load()

	if cfg.Auth.AccessTokenTTL != 20*time.Minute {
		t.Fatalf("expected 20m, got %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.LoginRateWindow != time.Minute {
		t.Fatalf("expected bare seconds to parse, got %v", cfg.Auth.LoginRateWindow)
	}
	if cfg.Download.URLTTL != 30*time.Minute {
		t.Fatalf("expected fallback to default, got %v", cfg.Download.URLTTL)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" 10.0.0.1, ,::1 ")
	if len(got) != 2 || got[0] != "10.0.0.1" || got[1] != "::1" {
		t.Fatalf("unexpected split: %v", got)
	}
	if splitCSV("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
