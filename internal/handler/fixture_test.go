package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/internal/service"
	"github.com/gamingglow/portal/pkg/testutil"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	testMetricsToken = "test-metrics-token"
	testCSRFToken    = "test-csrf-token"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	ResetAt *time.Time      `json:"reset_at"`
}

type stubPresigner struct{}

func (stubPresigner) PresignDownload(_ context.Context, key, filename string, ttl time.Duration) (string, time.Time, error) {
	return "https://objects.test/" + key + "?filename=" + filename, time.Now().Add(ttl), nil
}

type apiFixture struct {
	app        *fiber.App
	cfg        *config.Config
	authSvc    *service.AuthService
	principals *repository.PrincipalRepository
	releases   *repository.ReleaseRepository
	mr         *miniredis.Miniredis
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		Redis: config.RedisConfig{OpTimeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:        "handler-access-secret-0123456789abcdef",
			JWTRefreshSecret: "handler-refresh-secret-0123456789abcdef",
			AccessTokenTTL:   15 * time.Minute,
			RefreshTokenTTL:  7 * 24 * time.Hour,
			SessionTTL:       7 * 24 * time.Hour,
			TOTPIssuer:       "GAMINGGLOW",
			BcryptCost:       bcrypt.MinCost,
			LoginRateLimit:   5,
			LoginRateWindow:  300 * time.Second,
		},
		Download: config.DownloadConfig{
			IPHashSecret: "handler-ip-hash-secret-0123456789abcdef",
			URLTTL:       30 * time.Minute,
			GlobalLimit:  50,
			ProductLimit: 10,
			Window:       time.Hour,
		},
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
			MetricsToken:   testMetricsToken,
		},
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, _, cleanup := testutil.SetupTest(t)
	t.Cleanup(cleanup)
	client, mr := testutil.SetupRedis(t)
	cfg := testHandlerConfig()

	principals := repository.NewPrincipalRepository(db)
	releases := repository.NewReleaseRepository(db)
	counters := repository.NewDownloadCounterRepository(client)
	stats := repository.NewDownloadStatRepository(db)

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), 0)
	authSvc, err := service.NewAuthService(principals, repository.NewSessionRepository(db), auditSvc, cfg)
	if err != nil {
		t.Fatalf("NewAuthService failed: %v", err)
	}

	// A frozen limiter clock keeps every request in one window.
	frozen := time.Now().UTC()
	limiter := service.NewRateLimitService(repository.NewRateLimitRepository(client), time.Second)
	limiter.SetClock(func() time.Time { return frozen })

	downloadSvc := service.NewDownloadService(limiter, releases, stubPresigner{}, repository.NewGrantRepository(client), counters, stats, auditSvc, cfg)

	app := fiber.New()
	app.Use(SecurityHeadersMiddleware())
	app.Use(RequestIDMiddleware())
	app.Use(MetricsMiddleware())
	RegisterRoutes(app, cfg, Services{
		Auth:      authSvc,
		Download:  downloadSvc,
		Stats:     service.NewStatsService(counters, stats),
		Audit:     auditSvc,
		RateLimit: limiter,
		Health:    NewHealthHandler(db, client),
	})
	app.Get("/metrics", BearerTokenMiddleware(cfg.Observability.MetricsToken), NewMetricsHandler().Handler())

	return &apiFixture{
		app:        app,
		cfg:        cfg,
		authSvc:    authSvc,
		principals: principals,
		releases:   releases,
		mr:         mr,
	}
}

func (f *apiFixture) seedPrincipal(t *testing.T, id, email, password string, role models.Role) {
	t.Helper()
	hash, err := f.authSvc.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	p := &models.Principal{ID: id, Email: email, PasswordHash: hash, Role: role, CreatedAt: time.Now().UTC()}
	if err := f.principals.Create(context.Background(), p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
}

func (f *apiFixture) seedRelease(t *testing.T, productID, slug string, productStatus models.ProductStatus, scan models.ScanStatus) {
	t.Helper()
	ctx := context.Background()
	if err := f.releases.CreateProduct(ctx, productID, slug, strings.ToUpper(slug), productStatus); err != nil {
		t.Fatalf("create product: %v", err)
	}
	published := time.Now().Add(-time.Hour)
	rel := &models.Release{
		ID:          "rel-" + productID,
		ProductID:   productID,
		Version:     "1.0.0",
		StorageKey:  "products/" + productID + "/build.zip",
		FileSize:    2048,
		Checksum:    strings.Repeat("cd", 32),
		ContentType: "application/zip",
		ScanStatus:  scan,
		IsLatest:    true,
		PublishedAt: &published,
	}
	if err := f.releases.CreateRelease(ctx, rel); err != nil {
		t.Fatalf("create release: %v", err)
	}
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCSRF() requestOption {
	return func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", testCSRFToken)
		r.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRFToken})
	}
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func (f *apiFixture) do(t *testing.T, method, path string, payload interface{}, opts ...requestOption) (*http.Response, apiResponse) {
	t.Helper()

	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	var parsed apiResponse
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, parsed
}

// login runs the password step and returns the access token.
func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login status=%d error=%q", resp.StatusCode, body.Error)
	}
	var data AuthResponse
	decodeData(t, body, &data)
	if data.Token == "" {
		t.Fatal("expected access token in login response")
	}
	return data.Token
}

func decodeData(t *testing.T, body apiResponse, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(body.Data, dst); err != nil {
		t.Fatalf("decode data %q: %v", body.Data, err)
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
