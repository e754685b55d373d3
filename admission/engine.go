// Package admission implements the sidecar's two core decisions
// (spec.md §4.6): whether a request may proceed (device gate, then
// quota gate) and how to account for tokens afterward, on the
// response-notify callback.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/deviceregistry"
	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
	"github.com/linkedlist771/claude-auditlimit-go/tokenizer"
	"github.com/linkedlist771/claude-auditlimit-go/tokenusage"
	"github.com/linkedlist771/claude-auditlimit-go/windowcounter"
)

// Decision is the outcome of AuditLimit: exactly one of Allow,
// DeviceDenied, QuotaDenied, or InvalidJSON is true.
type Decision struct {
	Allow        bool
	DeviceDenied bool
	QuotaDenied  bool
	InvalidJSON  bool
	WaitSeconds  int64
	MaxDevices   int
	RateLimit    int
}

// Request carries the fields AuditLimit reads off the inbound HTTP
// request; handler.Audit is responsible for extracting them.
type Request struct {
	APIKey    string
	Host      string
	UserAgent string
	Referer   string
	Body      []byte // raw JSON body, may be empty for a GET
}

// Engine wires together the device registry, per-key window counter,
// and per-conversation token counter to implement AuditLimit and
// ResponseNotify exactly as the source's router handlers do.
type Engine struct {
	devices    *deviceregistry.Registry
	tokenUsage *windowcounter.Counter // "token:" namespace, per API key
	convTokens *tokenusage.Counter    // "token_usage:" namespace, per conversation
	tok        *tokenizer.Counter
	store      *redisclient.Client
	rateLimit  int64
	maxDevices int
}

// New builds an Engine from its component stores.
func New(store *redisclient.Client, cfg *config.Config, tok *tokenizer.Counter) *Engine {
	return &Engine{
		devices:    deviceregistry.New(store, cfg),
		tokenUsage: windowcounter.New(store, "token"),
		convTokens: tokenusage.New(store),
		tok:        tok,
		store:      store,
		rateLimit:  int64(cfg.RateLimit),
		maxDevices: cfg.MaxDevices,
	}
}

// StripBearer removes a case-insensitive "Bearer " prefix from an
// Authorization header value, matching the source's remove_beamer.
func StripBearer(authorization string) string {
	trimmed := strings.TrimSpace(authorization)
	if len(trimmed) >= 7 && strings.EqualFold(trimmed[:7], "Bearer ") {
		return strings.TrimSpace(trimmed[7:])
	}
	return trimmed
}

// ConversationID extracts the trailing path segment of a Referer
// header, the source's convention for identifying a conversation.
func ConversationID(referer string) string {
	if referer == "" {
		return ""
	}
	parts := strings.Split(referer, "/")
	return parts[len(parts)-1]
}

// AuditLimit runs the device gate followed by the quota gate for
// Claude-model requests (spec.md §4.6, original router.py audit_limit).
// Non-Claude models and bodies with no parseable "model" field are
// admitted unconditionally once past the device gate. A present but
// unparseable body is rejected with InvalidJSON (spec.md §4.6 step 4,
// §7, §8 scenario S6); an absent or empty body is not an error and is
// treated as non-Claude.
func (e *Engine) AuditLimit(ctx context.Context, req Request) (Decision, error) {
	allowed, err := e.devices.CheckAndAdd(ctx, req.APIKey, req.UserAgent, req.UserAgent, req.Host)
	if err != nil {
		return Decision{}, fmt.Errorf("checking device: %w", err)
	}
	if !allowed {
		return Decision{DeviceDenied: true, MaxDevices: e.maxDevices}, nil
	}

	payload, ok := parsePayload(req.Body)
	if !ok {
		return Decision{InvalidJSON: true}, nil
	}
	model, _ := payload["model"].(string)
	if !strings.Contains(strings.ToLower(model), "claude") {
		return Decision{Allow: true}, nil
	}

	stats, err := e.tokenUsage.Get(ctx, req.APIKey)
	if err != nil {
		return Decision{}, fmt.Errorf("reading usage stats: %w", err)
	}

	remaining := e.rateLimit - stats.Last3Hours
	if remaining <= 0 {
		ttl, err := e.store.TTL(ctx, "token:"+req.APIKey+":3h")
		if err != nil {
			return Decision{}, fmt.Errorf("reading quota ttl: %w", err)
		}
		return Decision{
			QuotaDenied: true,
			WaitSeconds: int64(ttl.Seconds()),
			RateLimit:   int(e.rateLimit),
		}, nil
	}

	tokenCount := e.tok.Count(extractPrompt(payload))
	tokenCount += e.tok.Count(extractAttachmentsText(payload))

	convID := ConversationID(req.Referer)
	if err := e.recordUsage(ctx, req.APIKey, convID, int64(tokenCount)); err != nil {
		return Decision{}, err
	}

	return Decision{Allow: true}, nil
}

// ResponseNotify accounts for the tokens in a model's response,
// extracted heuristically from the provider's streamed payload
// (spec.md §4.6, original router.py response_notify). It is a pure
// accounting side effect: it never denies.
func (e *Engine) ResponseNotify(ctx context.Context, apiKey, referer, rawData string) error {
	text := extractQuotedText(rawData)
	tokenCount := e.tok.Count(text)
	convID := ConversationID(referer)
	return e.recordUsage(ctx, apiKey, convID, int64(tokenCount))
}

// recordUsage folds a token delta into the conversation's accumulated
// total, then adds that *accumulated* total (not the delta) into the
// per-key rolling windows — matching the source exactly: each call
// increments token:<key>:* by the conversation's running total so far,
// not by the incremental token count.
func (e *Engine) recordUsage(ctx context.Context, apiKey, convID string, delta int64) error {
	accumulated, err := e.convTokens.Increment(ctx, apiKey, convID, delta)
	if err != nil {
		return fmt.Errorf("incrementing conversation usage: %w", err)
	}
	if err := e.tokenUsage.Increment(ctx, apiKey, accumulated); err != nil {
		return fmt.Errorf("incrementing key usage: %w", err)
	}
	return nil
}

// parsePayload distinguishes an absent/empty body (ok=true, empty map:
// a GET or bodyless POST proceeds as non-Claude) from a present but
// unparseable body (ok=false: the caller must reject with 400).
func parsePayload(body []byte) (payload map[string]interface{}, ok bool) {
	if len(body) == 0 {
		return map[string]interface{}{}, true
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

// extractPrompt walks messages[0].content.parts[0], returning "" at
// any missing level (original router.py's nested dict access).
func extractPrompt(payload map[string]interface{}) string {
	messages, _ := payload["messages"].([]interface{})
	if len(messages) == 0 {
		return ""
	}
	first, _ := messages[0].(map[string]interface{})
	content, _ := first["content"].(map[string]interface{})
	parts, _ := content["parts"].([]interface{})
	if len(parts) == 0 {
		return ""
	}
	text, _ := parts[0].(string)
	return text
}

// extractAttachmentsText walks raw_message.attachments[*].extracted_content
// and concatenates every attachment's extracted text.
func extractAttachmentsText(payload map[string]interface{}) string {
	rawMessage, _ := payload["raw_message"].(map[string]interface{})
	attachments, _ := rawMessage["attachments"].([]interface{})
	var b strings.Builder
	for _, a := range attachments {
		attachment, ok := a.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := attachment["extracted_content"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

var quotedTextPattern = regexp.MustCompile(`"text":"(.*?)"`)

// extractQuotedText applies the same non-greedy regex heuristic the
// source uses to pull text fragments out of a provider's raw
// server-sent-events payload, without parsing it as structured JSON.
func extractQuotedText(raw string) string {
	matches := quotedTextPattern.FindAllStringSubmatch(raw, -1)
	var b strings.Builder
	for _, m := range matches {
		if len(m) > 1 {
			b.WriteString(m[1])
		}
	}
	return b.String()
}
