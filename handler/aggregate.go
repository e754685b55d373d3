package handler

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/linkedlist771/claude-auditlimit-go/admission"
	"github.com/linkedlist771/claude-auditlimit-go/deviceregistry"
	"github.com/linkedlist771/claude-auditlimit-go/tokenusage"
	"github.com/linkedlist771/claude-auditlimit-go/windowcounter"
	"github.com/rs/zerolog"
)

// Aggregate serves the read-only reporting endpoints (token_stats,
// devices, all_token_devices, all_token_usage) and logout, which
// removes the caller's device.
type Aggregate struct {
	usage      *windowcounter.Counter
	devices    *deviceregistry.Registry
	convTokens *tokenusage.Counter
	logger     zerolog.Logger
}

// NewAggregate returns an Aggregate handler whose windowcounter,
// deviceregistry and tokenusage readers are backed by the same store as
// the admission engine, so reads reflect every prior write.
func NewAggregate(usage *windowcounter.Counter, devices *deviceregistry.Registry, convTokens *tokenusage.Counter, logger zerolog.Logger) *Aggregate {
	return &Aggregate{usage: usage, devices: devices, convTokens: convTokens, logger: logger.With().Str("handler", "aggregate").Logger()}
}

type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type usagePayload struct {
	Total       int64 `json:"total"`
	Last3Hours  int64 `json:"last_3_hours"`
	Last12Hours int64 `json:"last_12_hours"`
	Last24Hours int64 `json:"last_24_hours"`
	LastWeek    int64 `json:"last_week"`
}

func toUsagePayload(s windowcounter.Stats) usagePayload {
	return usagePayload{
		Total:       s.Total,
		Last3Hours:  s.Last3Hours,
		Last12Hours: s.Last12Hours,
		Last24Hours: s.Last24Hours,
		LastWeek:    s.LastWeek,
	}
}

type tokenStatEntry struct {
	Token           string       `json:"token"`
	Usage           usagePayload `json:"usage"`
	CurrentActive   bool         `json:"current_active"`
	LastSeenSeconds int          `json:"last_seen_seconds"`
}

// TokenStats implements GET /token_stats.
func (h *Aggregate) TokenStats(w http.ResponseWriter, r *http.Request) {
	all, err := h.usage.GetAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, envelope{Code: 500, Msg: "Failed to get token statistics"})
		return
	}

	stats := make([]tokenStatEntry, 0, len(all))
	for token, usage := range all {
		stats = append(stats, tokenStatEntry{
			Token:           token,
			Usage:           toUsagePayload(usage),
			CurrentActive:   true,
			LastSeenSeconds: 60,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Usage.Total > stats[j].Usage.Total })

	writeJSON(w, http.StatusOK, envelope{Code: 0, Msg: "success", Data: stats})
}

type deviceEntry struct {
	UserAgent string `json:"user_agent"`
	Host      string `json:"host"`
}

// Devices implements GET /devices.
func (h *Aggregate) Devices(w http.ResponseWriter, r *http.Request) {
	apiKey := admission.StripBearer(r.Header.Get("Authorization"))
	list, err := h.devices.List(r.Context(), apiKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, envelope{Code: 500, Msg: "Failed to list devices"})
		return
	}

	entries := make([]deviceEntry, 0, len(list))
	for _, d := range list {
		entries = append(entries, deviceEntry{UserAgent: d.UserAgent, Host: d.Host})
	}

	writeJSON(w, http.StatusOK, envelope{
		Code: 0, Msg: "Success",
		Data: map[string]interface{}{"devices": entries, "total": len(entries)},
	})
}

// Logout implements GET /logout: it removes the caller's current
// device (user agent) from its key's device set.
func (h *Aggregate) Logout(w http.ResponseWriter, r *http.Request) {
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

	ok, err := h.devices.Remove(r.Context(), apiKey, userAgent)
	if err != nil || !ok {
		writeError(w, http.StatusInternalServerError, "Failed to logout device")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Code: 0, Msg: "Device logged out successfully"})
}

type tokenDeviceEntry struct {
	Token   string        `json:"token"`
	Devices []deviceEntry `json:"devices"`
	Total   int           `json:"total"`
}

// AllTokenDevices implements GET /all_token_devices.
func (h *Aggregate) AllTokenDevices(w http.ResponseWriter, r *http.Request) {
	all, err := h.devices.ListAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, envelope{Code: 500, Msg: "Failed to list devices"})
		return
	}

	stats := make([]tokenDeviceEntry, 0, len(all))
	for token, list := range all {
		entries := make([]deviceEntry, 0, len(list))
		for _, d := range list {
			entries = append(entries, deviceEntry{UserAgent: d.UserAgent, Host: d.Host})
		}
		stats = append(stats, tokenDeviceEntry{Token: token, Devices: entries, Total: len(entries)})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Total > stats[j].Total })

	writeJSON(w, http.StatusOK, envelope{Code: 0, Msg: "Success", Data: stats})
}

// AllTokenUsage implements GET /all_token_usage: per-key,
// per-conversation token counts (original TokenUsageManager.get_all_token_usage).
func (h *Aggregate) AllTokenUsage(w http.ResponseWriter, r *http.Request) {
	all, err := h.convTokens.GetAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, envelope{Code: 500, Msg: "Failed to get token usage"})
		return
	}
	writeJSON(w, http.StatusOK, all)
}
