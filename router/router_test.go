package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/linkedlist771/claude-auditlimit-go/admission"
	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/deviceregistry"
	"github.com/linkedlist771/claude-auditlimit-go/handler"
	"github.com/linkedlist771/claude-auditlimit-go/observability"
	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
	"github.com/linkedlist771/claude-auditlimit-go/tokenizer"
	"github.com/linkedlist771/claude-auditlimit-go/tokenusage"
	"github.com/linkedlist771/claude-auditlimit-go/windowcounter"
)

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := &config.Config{
		Env:          "test",
		MaxDevices:   3,
		RateLimit:    100000,
		MaxBodyBytes: 1 << 20,
		DocsUsername: "docs-user",
		DocsPassword: "docs-pass",
	}

	store := redisclient.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	tok := tokenizer.New(cfg.DefaultTokenizer)
	engine := admission.New(store, cfg, tok)
	metrics := observability.NewMetrics(log)

	deps := Deps{
		Audit:     handler.NewAudit(engine, log, metrics),
		Notify:    handler.NewNotify(engine, log, metrics),
		Aggregate: handler.NewAggregate(windowcounter.New(store, "token"), deviceregistry.New(store, cfg), tokenusage.New(store), log),
		Metrics:   metrics,
	}

	return NewRouter(cfg, log, deps)
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"healthz", "/healthz", http.StatusOK},
		{"ready", "/ready", http.StatusOK},
		{"health", "/health", http.StatusOK},
		{"liveness", "/", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rw := httptest.NewRecorder()
			r.ServeHTTP(rw, req)
			if rw.Result().StatusCode != tc.status {
				t.Fatalf("expected %d for %s, got %d", tc.status, tc.path, rw.Result().StatusCode)
			}
		})
	}
}

func TestDocsRequiresBasicAuth(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthenticated /openapi.json, got %d", rw.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	req.SetBasicAuth("docs-user", "docs-pass")
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid basic auth, got %d", rw.Result().StatusCode)
	}
}

func TestAuditLimitRequiresHostAndUserAgent(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/audit_limit", nil)
	req.Header.Del("User-Agent")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without User-Agent, got %d", rw.Result().StatusCode)
	}
}

func TestAuditLimitAllowsWithinLimits(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/audit_limit", nil)
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.Header.Set("Authorization", "Bearer sk-test")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Result().StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodOptions, "/audit_limit", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Strict-Transport-Security",
	}
	for _, h := range headers {
		if rw.Header().Get(h) == "" {
			t.Fatalf("expected security header %s to be set", h)
		}
	}
}
