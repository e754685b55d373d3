// Package router wires the sidecar's HTTP surface: the admission
// middleware chain (CORS → security headers → request ID → recovery →
// request logger → body size limit), the unauthenticated admission and
// notify endpoints, the docs routes behind Basic auth, and /metrics.
package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/handler"
	gwmw "github.com/linkedlist771/claude-auditlimit-go/middleware"
	"github.com/linkedlist771/claude-auditlimit-go/observability"
)

// Deps bundles every handler the router mounts.
type Deps struct {
	Audit     *handler.Audit
	Notify    *handler.Notify
	Aggregate *handler.Aggregate
	Metrics   *observability.Metrics
}

// NewRouter returns a configured chi Router with the full middleware
// chain and all routes mounted.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", healthResponse)
	r.Get("/ready", healthResponse)
	r.Get("/health", healthResponse)

	r.Get("/", handler.Liveness)

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(gwmw.BasicAuth(cfg.DocsUsername, cfg.DocsPassword))
		r.Get("/openapi.json", handler.OpenAPIHandler)
		r.Get("/docs", handler.DocsHandler)
		r.Get("/redoc", handler.DocsHandler)
	})

	// Admission surface — no API-key auth: spec.md §1, this sidecar
	// gatekeeps by device/quota, it does not authenticate the key.
	r.Get("/audit_limit", deps.Audit.AuditLimit)
	r.Post("/audit_limit", deps.Audit.AuditLimit)
	r.Post("/response_notify", deps.Notify.ResponseNotify)
	r.Post("/document_notify", deps.Notify.DocumentNotify)

	r.Get("/token_stats", deps.Aggregate.TokenStats)
	r.Get("/devices", deps.Aggregate.Devices)
	r.Get("/logout", deps.Aggregate.Logout)
	r.Get("/all_token_devices", deps.Aggregate.AllTokenDevices)
	r.Get("/all_token_usage", deps.Aggregate.AllTokenUsage)

	return r
}

func healthResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"claude-auditlimit"}`))
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("AUDITLIMIT_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":{"message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
