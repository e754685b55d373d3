package integration_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/linkedlist771/claude-auditlimit-go/router"
	"github.com/linkedlist771/claude-auditlimit-go/tokenizer"
	"github.com/linkedlist771/claude-auditlimit-go/tokenusage"
	"github.com/linkedlist771/claude-auditlimit-go/windowcounter"
)

// newTestServer builds a full sidecar against an in-process miniredis
// instance — no docker-compose or external services required.
func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store := redisclient.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	log := zerolog.New(io.Discard)
	tok := tokenizer.New(cfg.DefaultTokenizer)
	engine := admission.New(store, cfg, tok)
	metrics := observability.NewMetrics(log)

	deps := router.Deps{
		Audit:     handler.NewAudit(engine, log, metrics),
		Notify:    handler.NewNotify(engine, log, metrics),
		Aggregate: handler.NewAggregate(windowcounter.New(store, "token"), deviceregistry.New(store, cfg), tokenusage.New(store), log),
		Metrics:   metrics,
	}

	return httptest.NewServer(router.NewRouter(cfg, log, deps))
}

func testConfig() *config.Config {
	return &config.Config{
		Env:          "test",
		MaxDevices:   2,
		RateLimit:    100000,
		MaxBodyBytes: 1 << 20,
		DocsUsername: "docs-user",
		DocsPassword: "docs-pass",
	}
}

// a key may be used from up to MaxDevices distinct devices.
func TestDeviceCapAcrossDevices(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	for i := 0; i < cfg.MaxDevices; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
		req.Header.Set("Authorization", "Bearer sk-device-cap")
		req.Header.Set("User-Agent", "agent-"+string(rune('A'+i)))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("device %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	// one device over the cap must be denied
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
	req.Header.Set("Authorization", "Bearer sk-device-cap")
	req.Header.Set("User-Agent", "agent-over-cap")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 once over device cap, got %d", resp.StatusCode)
	}
}

// S2: the same device may re-authenticate indefinitely without
// consuming another device slot.
func TestSameDeviceNeverDenied(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
		req.Header.Set("Authorization", "Bearer sk-repeat")
		req.Header.Set("User-Agent", "same-agent")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("iteration %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
}

// admission requires both Host and User-Agent.
func TestMissingUserAgentRejected(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
	req.Header.Set("Authorization", "Bearer sk-no-ua")
	// An empty value stops net/http from sending its default User-Agent.
	req.Header.Set("User-Agent", "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// S4: keys are isolated from one another — a cap on one key does not
// affect another.
func TestKeysAreIsolated(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	for i := 0; i < cfg.MaxDevices; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
		req.Header.Set("Authorization", "Bearer sk-key-a")
		req.Header.Set("User-Agent", "agent-"+string(rune('A'+i)))
		resp, _ := http.DefaultClient.Do(req)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
	req.Header.Set("Authorization", "Bearer sk-key-b")
	req.Header.Set("User-Agent", "agent-fresh")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected key-b's first device to be admitted, got %d", resp.StatusCode)
	}
}

// S5: logout frees a device slot for reuse by a new device.
func TestLogoutFreesDeviceSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDevices = 1
	srv := newTestServer(t, cfg)
	defer srv.Close()

	admit := func(userAgent string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/audit_limit", nil)
		req.Header.Set("Authorization", "Bearer sk-logout")
		req.Header.Set("User-Agent", userAgent)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if status := admit("device-one"); status != http.StatusOK {
		t.Fatalf("expected first device admitted, got %d", status)
	}
	if status := admit("device-two"); status != http.StatusForbidden {
		t.Fatalf("expected second device denied, got %d", status)
	}

	logoutReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer sk-logout")
	logoutReq.Header.Set("User-Agent", "device-one")
	logoutResp, err := http.DefaultClient.Do(logoutReq)
	if err != nil {
		t.Fatalf("logout request failed: %v", err)
	}
	logoutResp.Body.Close()
	if logoutResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", logoutResp.StatusCode)
	}

	if status := admit("device-two"); status != http.StatusOK {
		t.Fatalf("expected device-two admitted after logout, got %d", status)
	}
}

// the response_notify callback folds tokens into the caller's
// rolling-window usage, visible via /token_stats.
func TestResponseNotifyAccountsTokens(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/response_notify",
		strings.NewReader(`{"Data":"event: delta\ndata: {\"text\":\"hello world\"}\n\n"}`))
	req.Header.Set("Authorization", "Bearer sk-notify")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", "https://chat.example.com/c/conv-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("response_notify failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from response_notify, got %d", resp.StatusCode)
	}

	statsReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/token_stats", nil)
	statsResp, err := http.DefaultClient.Do(statsReq)
	if err != nil {
		t.Fatalf("token_stats failed: %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from token_stats, got %d", statsResp.StatusCode)
	}
	data, err := io.ReadAll(statsResp.Body)
	if err != nil {
		t.Fatalf("reading token_stats body: %v", err)
	}
	if !strings.Contains(string(data), "sk-notify") {
		t.Fatalf("expected sk-notify to appear in token_stats, got %s", data)
	}
}

// S1: admitting a Claude-model request tokenizes the prompt and folds
// it into the caller's rolling-window usage.
func TestAuditLimitAccountsClaudeTokens(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	body := `{"model":"claude-3-opus","messages":[{"content":{"parts":["hello world, this is a test prompt"]}}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/audit_limit", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-claude-happy")
	req.Header.Set("User-Agent", "agent-1")
	req.Header.Set("Referer", "https://chat.example.com/c/conv-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	statsReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/token_stats", nil)
	statsResp, err := http.DefaultClient.Do(statsReq)
	if err != nil {
		t.Fatalf("token_stats failed: %v", err)
	}
	defer statsResp.Body.Close()
	data, err := io.ReadAll(statsResp.Body)
	if err != nil {
		t.Fatalf("reading token_stats body: %v", err)
	}
	if !strings.Contains(string(data), "sk-claude-happy") {
		t.Fatalf("expected sk-claude-happy to appear in token_stats, got %s", data)
	}
}

// S3: once a key's 3-hour window is exhausted, further Claude requests
// are denied with 429 and a positive wait_seconds.
func TestAuditLimitDeniesOverQuota(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	srv := newTestServer(t, cfg)
	defer srv.Close()

	claudeRequest := func() *http.Response {
		body := `{"model":"claude-3-opus","messages":[{"content":{"parts":["hello world, this is a test prompt"]}}]}`
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/audit_limit", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer sk-over-quota")
		req.Header.Set("User-Agent", "agent-1")
		req.Header.Set("Referer", "https://chat.example.com/c/conv-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}

	first := claudeRequest()
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first request admitted, got %d", first.StatusCode)
	}

	second := claudeRequest()
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once quota exhausted, got %d", second.StatusCode)
	}
	body, err := io.ReadAll(second.Body)
	if err != nil {
		t.Fatalf("reading 429 body: %v", err)
	}
	if !strings.Contains(string(body), "Usage limit exceeded") {
		t.Fatalf("expected bilingual quota message, got %s", body)
	}
}

// S6: a present but unparseable /audit_limit body is rejected with
// 400, not silently treated as a non-Claude admission.
func TestAuditLimitRejectsMalformedJSON(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/audit_limit", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer sk-malformed")
	req.Header.Set("User-Agent", "agent-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON body, got %d", resp.StatusCode)
	}
}

// A malformed /response_notify body is best-effort accounting, not
// validation: it must not surface as a 400.
func TestResponseNotifyToleratesMalformedBody(t *testing.T) {
	cfg := testConfig()
	srv := newTestServer(t, cfg)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/response_notify", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer sk-malformed-notify")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for malformed response_notify body, got %d", resp.StatusCode)
	}
}
