// Package deviceregistry enforces the per-key device cap (spec.md §4.3):
// each API key may be used from at most MaxDevices distinct devices,
// where a device is identified by a caller-supplied identifier (the
// request's User-Agent) hashed to avoid storing raw client strings.
package deviceregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
)

// Info is the metadata stored alongside a device hash.
type Info struct {
	UserAgent string
	Host      string
}

// Registry tracks devices per API key in the KV store.
type Registry struct {
	store      *redisclient.Client
	maxDevices int
	ttl        time.Duration
}

// New returns a Registry backed by store, capped at cfg.MaxDevices.
func New(store *redisclient.Client, cfg *config.Config) *Registry {
	return &Registry{
		store:      store,
		maxDevices: cfg.MaxDevices,
		ttl:        config.DeviceTTL,
	}
}

func hashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

func deviceSetKey(token string) string {
	return "devices:" + token
}

func deviceInfoKey(token, deviceHash string) string {
	return "device_info:" + token + ":" + deviceHash
}

// CheckAndAdd registers identifier as a device for token if it is
// already known, or if the device count is still below the cap. It
// returns false only when the device is new AND the key is already at
// its cap — the caller maps that to a 403 (spec.md §7).
func (r *Registry) CheckAndAdd(ctx context.Context, token, identifier, userAgent, host string) (bool, error) {
	deviceHash := hashIdentifier(identifier)
	key := deviceSetKey(token)

	isMember, err := r.store.SIsMember(ctx, key, deviceHash)
	if err != nil {
		return false, err
	}
	if isMember {
		return true, nil
	}

	count, err := r.store.SCard(ctx, key)
	if err != nil {
		return false, err
	}
	if int(count) >= r.maxDevices {
		return false, nil
	}

	if _, err := r.store.SAdd(ctx, key, deviceHash); err != nil {
		return false, err
	}
	if err := r.storeInfo(ctx, token, deviceHash, userAgent, host); err != nil {
		return false, err
	}
	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) storeInfo(ctx context.Context, token, deviceHash, userAgent, host string) error {
	key := deviceInfoKey(token, deviceHash)
	if err := r.store.HSet(ctx, key, map[string]string{
		"user_agent": userAgent,
		"host":       host,
	}); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.ttl)
}

// List returns every known device for token.
func (r *Registry) List(ctx context.Context, token string) ([]Info, error) {
	hashes, err := r.store.SMembers(ctx, deviceSetKey(token))
	if err != nil {
		return nil, err
	}
	devices := make([]Info, 0, len(hashes))
	for _, h := range hashes {
		fields, err := r.store.HGetAll(ctx, deviceInfoKey(token, h))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		devices = append(devices, Info{UserAgent: fields["user_agent"], Host: fields["host"]})
	}
	return devices, nil
}

// Remove drops identifier from token's device set (the logout operation).
func (r *Registry) Remove(ctx context.Context, token, identifier string) (bool, error) {
	deviceHash := hashIdentifier(identifier)
	if err := r.store.Del(ctx, deviceInfoKey(token, deviceHash)); err != nil {
		return false, err
	}
	return r.store.SRem(ctx, deviceSetKey(token), deviceHash)
}

// ListAll returns every key's device list, keyed by token, for the
// all_token_devices aggregate endpoint.
func (r *Registry) ListAll(ctx context.Context) (map[string][]Info, error) {
	keys, err := r.store.Keys(ctx, "devices:*")
	if err != nil {
		return nil, err
	}
	result := make(map[string][]Info, len(keys))
	for _, key := range keys {
		token := strings.TrimPrefix(key, "devices:")
		devices, err := r.List(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("listing devices for %s: %w", token, err)
		}
		result[token] = devices
	}
	return result, nil
}
