// Package tokenusage tracks per-conversation token counts within a
// single API key (spec.md §4.5): "token_usage:<key>:<conversation_id>"
// integer counters with no TTL, used to fold conversation-scoped
// accounting into the rolling windowcounter totals.
package tokenusage

import (
	"context"
	"strings"

	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
)

// Counter tracks conversation-scoped token counts per API key.
type Counter struct {
	store *redisclient.Client
}

// New returns a Counter backed by store.
func New(store *redisclient.Client) *Counter {
	return &Counter{store: store}
}

func key(apiKey, conversationID string) string {
	return "token_usage:" + apiKey + ":" + conversationID
}

// Get returns the current token count for a conversation. A missing
// entry is materialized at 0, matching the source's get-or-create
// behavior.
func (c *Counter) Get(ctx context.Context, apiKey, conversationID string) (int64, error) {
	v, ok, err := c.store.GetInt(ctx, key(apiKey, conversationID))
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := c.store.SetInt(ctx, key(apiKey, conversationID), 0, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return v, nil
}

// Increment adds delta to the conversation's counter and returns the
// new total.
func (c *Counter) Increment(ctx context.Context, apiKey, conversationID string, delta int64) (int64, error) {
	return c.store.IncrBy(ctx, key(apiKey, conversationID), delta)
}

// GetAllForKey returns every conversation's token count for a single
// API key, keyed by conversation id.
func (c *Counter) GetAllForKey(ctx context.Context, apiKey string) (map[string]int64, error) {
	keys, err := c.store.Keys(ctx, "token_usage:"+apiKey+":*")
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(keys))
	for _, k := range keys {
		convID := strings.TrimPrefix(k, "token_usage:"+apiKey+":")
		v, _, err := c.store.GetInt(ctx, k)
		if err != nil {
			return nil, err
		}
		result[convID] = v
	}
	return result, nil
}

// GetAll returns every API key's conversation usage map.
func (c *Counter) GetAll(ctx context.Context) (map[string]map[string]int64, error) {
	keys, err := c.store.Keys(ctx, "token_usage:*")
	if err != nil {
		return nil, err
	}
	result := make(map[string]map[string]int64)
	for _, k := range keys {
		parts := strings.SplitN(strings.TrimPrefix(k, "token_usage:"), ":", 2)
		if len(parts) != 2 {
			continue
		}
		apiKey, convID := parts[0], parts[1]
		v, _, err := c.store.GetInt(ctx, k)
		if err != nil {
			return nil, err
		}
		if result[apiKey] == nil {
			result[apiKey] = make(map[string]int64)
		}
		result[apiKey][convID] = v
	}
	return result, nil
}
