// Package handler adapts admission.Engine and the aggregate readers
// to HTTP, producing the exact JSON response shapes the source's
// FastAPI router returns (original_source/claude_auditlimit_python/router.py).
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/linkedlist771/claude-auditlimit-go/admission"
	"github.com/linkedlist771/claude-auditlimit-go/observability"
	"github.com/rs/zerolog"
)

// Audit wires the admission engine into the /audit_limit endpoint.
type Audit struct {
	engine  *admission.Engine
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewAudit returns an Audit handler.
func NewAudit(engine *admission.Engine, logger zerolog.Logger, metrics *observability.Metrics) *Audit {
	return &Audit{engine: engine, logger: logger.With().Str("handler", "audit").Logger(), metrics: metrics}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	body := errorBody{}
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// AuditLimit implements GET/POST /audit_limit (spec.md §6, §7). Host
// and User-Agent are required; a POST body, if present, is parsed for
// the model/messages/raw_message fields the admission engine inspects.
func (h *Audit) AuditLimit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	apiKey := admission.StripBearer(r.Header.Get("Authorization"))

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.URL.Hostname()
	}
	if host == "" {
		host = r.Host
	}
	userAgent := r.Header.Get("User-Agent")

	if host == "" || userAgent == "" {
		writeError(w, http.StatusBadRequest, "Host and User-Agent are required")
		return
	}

	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	req := admission.Request{
		APIKey:    apiKey,
		Host:      host,
		UserAgent: userAgent,
		Referer:   r.Header.Get("Referer"),
		Body:      body,
	}

	decision, err := h.engine.AuditLimit(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("api_key", apiKey).Msg("audit_limit failed")
		h.metrics.TrackAdmission("error", msSince(start))
		writeError(w, http.StatusInternalServerError, "Failed to verify device\n无法验证设备")
		return
	}

	switch {
	case decision.DeviceDenied:
		h.metrics.TrackAdmission("device_denied", msSince(start))
		writeError(w, http.StatusForbidden, deviceDeniedMessage(decision.MaxDevices))
	case decision.QuotaDenied:
		h.metrics.TrackAdmission("quota_denied", msSince(start))
		writeError(w, http.StatusTooManyRequests, quotaDeniedMessage(decision.RateLimit, decision.WaitSeconds))
	case decision.InvalidJSON:
		h.metrics.TrackAdmission("invalid_json", msSince(start))
		writeError(w, http.StatusBadRequest, "Invalid JSON data")
	default:
		h.metrics.TrackAdmission("allow", msSince(start))
		w.WriteHeader(http.StatusOK)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
