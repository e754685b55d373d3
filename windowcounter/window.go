// Package windowcounter implements the rolling-window usage counters
// (spec.md §4.4): a set of TTL buckets per identifier — 3h, 12h, 24h,
// 1w, plus a never-expiring total — each incremented together and read
// back independently. A bucket's TTL is refreshed on every increment,
// so it behaves as a bucket that disappears at expiry rather than a
// true sliding window (spec.md §4.4 semantics note).
package windowcounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/linkedlist771/claude-auditlimit-go/redisclient"
	"github.com/redis/go-redis/v9"
)

// Stats is the usage snapshot returned for a single identifier.
type Stats struct {
	Total       int64
	Last3Hours  int64
	Last12Hours int64
	Last24Hours int64
	LastWeek    int64
}

// Counter maintains rolling-window counters under a given key prefix,
// so the same implementation serves both the "token:" (per-key quota)
// and "usage:" (non-token usage records) namespaces.
type Counter struct {
	store  *redisclient.Client
	prefix string
}

// New returns a Counter that stores keys as "<prefix>:<id>:<period>".
func New(store *redisclient.Client, prefix string) *Counter {
	return &Counter{store: store, prefix: prefix}
}

func (c *Counter) key(id, period string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, id, period)
}

// Increment adds count to every window bucket for id, creating each
// bucket with its TTL if absent and refreshing the TTL otherwise. The
// total bucket never expires.
func (c *Counter) Increment(ctx context.Context, id string, count int64) error {
	totalKey := c.key(id, config.TotalPeriod)
	if _, err := c.store.IncrBy(ctx, totalKey, count); err != nil {
		return err
	}

	for _, period := range config.Windows {
		key := c.key(id, period.Name)
		exists, err := c.store.Exists(ctx, key)
		if err != nil {
			return err
		}
		if !exists {
			if err := c.store.SetInt(ctx, key, count, period.TTL); err != nil {
				return err
			}
			continue
		}
		if _, err := c.store.IncrBy(ctx, key, count); err != nil {
			return err
		}
		if err := c.store.Expire(ctx, key, period.TTL); err != nil {
			return err
		}
	}
	return nil
}

// Get reads the full window snapshot for a single identifier in one
// pipelined round trip (spec.md §4.4).
func (c *Counter) Get(ctx context.Context, id string) (Stats, error) {
	periodNames := make([]string, 0, len(config.Windows)+1)
	periodNames = append(periodNames, config.TotalPeriod)
	for _, period := range config.Windows {
		periodNames = append(periodNames, period.Name)
	}

	cmds := make([]*redis.StringCmd, len(periodNames))
	if _, err := c.store.Pipeline(ctx, func(p redis.Pipeliner) {
		for i, name := range periodNames {
			cmds[i] = p.Get(ctx, c.key(id, name))
		}
	}); err != nil {
		return Stats{}, err
	}

	values := make(map[string]int64, len(periodNames))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return Stats{}, fmt.Errorf("%w: %v", redisclient.ErrUnavailable, err)
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		values[periodNames[i]] = n
	}

	return Stats{
		Total:       values[config.TotalPeriod],
		Last3Hours:  values["3h"],
		Last12Hours: values["12h"],
		Last24Hours: values["24h"],
		LastWeek:    values["1w"],
	}, nil
}

// GetAll returns every identifier's snapshot under this counter's
// namespace, keyed by identifier (spec.md §4.7 aggregate endpoints).
func (c *Counter) GetAll(ctx context.Context) (map[string]Stats, error) {
	pattern := c.prefix + ":*:" + config.TotalPeriod
	keys, err := c.store.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Stats, len(keys))
	for _, key := range keys {
		id := extractID(key, c.prefix)
		if id == "" {
			continue
		}
		stats, err := c.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading stats for %s: %w", id, err)
		}
		result[id] = stats
	}
	return result, nil
}

// extractID strips "<prefix>:" and ":total" from a key, returning the
// identifier in between. Identifiers themselves must not contain ':'.
func extractID(key, prefix string) string {
	trimmed := strings.TrimPrefix(key, prefix+":")
	return strings.TrimSuffix(trimmed, ":"+config.TotalPeriod)
}
