package auditlimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuditLimitReturnsNilOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	if err := client.AuditLimit(context.Background(), "https://chat.example.com/c/conv-1"); err != nil {
		t.Fatalf("AuditLimit: %v", err)
	}
}

func TestAuditLimitReturnsDeviceDeniedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"device cap reached"}}`))
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	err := client.AuditLimit(context.Background(), "")
	if err == nil {
		t.Fatal("expected an error")
	}
	var deviceErr *DeviceDeniedError
	if !asDeviceDeniedError(err, &deviceErr) {
		t.Fatalf("expected *DeviceDeniedError, got %T: %v", err, err)
	}
	if deviceErr.Message != "device cap reached" {
		t.Fatalf("unexpected message: %q", deviceErr.Message)
	}
}

func TestAuditLimitReturnsQuotaExceededError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	err := client.AuditLimit(context.Background(), "")
	if _, ok := err.(*QuotaExceededError); !ok {
		t.Fatalf("expected *QuotaExceededError, got %T: %v", err, err)
	}
}

func TestTokenStatsParsesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":[{"token":"sk-a","usage":{"total":100,"last_3_hours":50,"last_12_hours":60,"last_24_hours":70,"last_week":80}}]}`))
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	stats, err := client.TokenStats(context.Background())
	if err != nil {
		t.Fatalf("TokenStats: %v", err)
	}
	usage, ok := stats["sk-a"]
	if !ok {
		t.Fatalf("expected entry for sk-a, got %+v", stats)
	}
	if usage.Total != 100 || usage.Last3Hours != 50 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func asDeviceDeniedError(err error, target **DeviceDeniedError) bool {
	if e, ok := err.(*DeviceDeniedError); ok {
		*target = e
		return true
	}
	return false
}
