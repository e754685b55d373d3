package handler

import (
	"encoding/json"
	"net/http"

	"github.com/linkedlist771/claude-auditlimit-go/admission"
	"github.com/linkedlist771/claude-auditlimit-go/observability"
	"github.com/rs/zerolog"
)

// Notify wires the admission engine into the response/document notify
// callbacks the upstream proxy fires after streaming a reply.
type Notify struct {
	engine  *admission.Engine
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewNotify returns a Notify handler.
func NewNotify(engine *admission.Engine, logger zerolog.Logger, metrics *observability.Metrics) *Notify {
	return &Notify{engine: engine, logger: logger.With().Str("handler", "notify").Logger(), metrics: metrics}
}

type responseNotifyBody struct {
	Data string `json:"Data"`
}

// ResponseNotify implements POST /response_notify: it extracts text
// fragments from the provider's raw response payload with the same
// regex heuristic as the source, tokenizes them, and folds the count
// into the caller's usage (spec.md §4.6, §6). This path is best-effort
// accounting, not validation: a malformed body yields 0 tokens rather
// than a 400, and only a store fault produces a non-200 response.
func (h *Notify) ResponseNotify(w http.ResponseWriter, r *http.Request) {
	apiKey := admission.StripBearer(r.Header.Get("Authorization"))

	var body responseNotifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body.Data = ""
	}

	referer := r.Header.Get("Referer")
	if err := h.engine.ResponseNotify(r.Context(), apiKey, referer, body.Data); err != nil {
		h.logger.Error().Err(err).Str("api_key", apiKey).Msg("response_notify failed")
		writeError(w, http.StatusInternalServerError, "Failed to record response usage")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DocumentNotify implements POST /document_notify. The source leaves
// this handler's body entirely commented out — it accepts the
// callback and does nothing, matching that behavior exactly rather
// than reviving the dead accounting path (spec.md §4.6 non-goal).
func (h *Notify) DocumentNotify(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
