package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestSecurityHeadersAndRequestID(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Fatalf("%s=%q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}

	resp, _ = f.do(t, http.MethodGet, "/health", nil, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "req-123")
	})
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}
}

func TestCSRFMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(CSRFMiddleware())
	handler := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
	app.Get("/", handler)
	app.Post("/", handler)

	tests := []struct {
		name   string
		method string
		header string
		cookie string
		want   int
	}{
		{"safe method skipped", http.MethodGet, "", "", fiber.StatusNoContent},
		{"missing header", http.MethodPost, "", "abc", fiber.StatusForbidden},
		{"missing cookie", http.MethodPost, "abc", "", fiber.StatusForbidden},
		{"mismatch", http.MethodPost, "abc", "abd", fiber.StatusForbidden},
		{"match", http.MethodPost, "abc", "abc", fiber.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/", nil)
		if tt.header != "" {
			req.Header.Set("X-CSRF-Token", tt.header)
		}
		if tt.cookie != "" {
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
		}
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, resp.StatusCode)
		}
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	app := fiber.New()
	app.Post("/", BodyLimitMiddleware(8), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestGenerateCSRFToken(t *testing.T) {
	a, b := GenerateCSRFToken(), GenerateCSRFToken()
	if len(a) != 64 || a == b {
		t.Fatalf("expected distinct 64-char tokens, got %q %q", a, b)
	}
}

func TestHealthReadiness(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health/ready", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	f.mr.Close()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 with redis down, got %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out struct {
		Status string                       `json:"status"`
		Checks map[string]map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "degraded" || out.Checks["redis"]["status"] != "unhealthy" || out.Checks["database"]["status"] != "healthy" {
		t.Fatalf("unexpected readiness body %s", raw)
	}
}

func TestHealthHandler_NilDependencies(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	if err := h.checkDatabase(t.Context()); err != ErrDatabaseNotInitialized {
		t.Fatalf("expected ErrDatabaseNotInitialized, got %v", err)
	}
	if err := h.checkCache(t.Context()); err != ErrCacheNotInitialized {
		t.Fatalf("expected ErrCacheNotInitialized, got %v", err)
	}
}
