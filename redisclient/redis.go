// Package redisclient is the KV store driver (spec.md §4.1): a thin
// capability over GET/SET/INCRBY/EXISTS/EXPIRE/TTL/DEL and the set/hash
// primitives the device registry and window counters need, plus a
// pipelined batch. A missing key is reported as "not present", not an
// error; every other store error surfaces as ErrUnavailable.
package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/linkedlist771/claude-auditlimit-go/config"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any error the backing store returns other than
// "key not found". Callers treat this as a 5xx (spec.md §4.1, §7).
var ErrUnavailable = errors.New("redisclient: store unavailable")

// Client is the KV store driver used by every counter/registry in the core.
type Client struct {
	rdb *redis.Client
}

// New creates a Redis client from the provided config.
func New(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	return &Client{rdb: rdb}
}

// NewWithClient wraps an already-constructed *redis.Client, used by
// tests to point the driver at a miniredis instance.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping verifies connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Get returns the value, whether it was present, and any store error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return v, true, nil
}

// GetInt reads a key as an integer, returning (0, false, nil) on miss.
func (c *Client) GetInt(ctx context.Context, key string) (int64, bool, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, parseErr := strconv.ParseInt(v, 10, 64)
	if parseErr != nil {
		return 0, true, nil
	}
	return n, true, nil
}

// Set writes a value with an optional TTL (ttl<=0 means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap(c.rdb.Set(ctx, key, value, ttl).Err())
}

// SetInt writes an integer value with an optional TTL.
func (c *Client) SetInt(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.Set(ctx, key, strconv.FormatInt(value, 10), ttl)
}

// IncrBy atomically increments (creating at 0 first if absent) and
// returns the new value.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// Expire refreshes the TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap(c.rdb.Expire(ctx, key, ttl).Err())
}

// TTL returns the remaining time-to-live, or 0 if the key has no TTL
// or does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap(c.rdb.Del(ctx, keys...).Err())
}

// SAdd adds a member to a set, returning whether it was newly added.
func (c *Client) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// SRem removes a member from a set, returning whether it was present.
func (c *Client) SRem(ctx context.Context, key, member string) (bool, error) {
	n, err := c.rdb.SRem(ctx, key, member).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// SIsMember reports set membership.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

// SCard returns the cardinality of a set.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return members, nil
}

// HSet writes a hash from the given field/value map.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return wrap(c.rdb.HSet(ctx, key, values).Err())
}

// HGetAll reads a hash in full; an absent key returns an empty, non-nil map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return m, nil
}

// Keys returns all keys matching a glob-style pattern. Intended for the
// aggregate-read endpoints, which scan the namespace (spec.md §4.7);
// it walks the whole namespace with an incremental SCAN rather than a
// single blocking KEYS call.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(err)
	}
	return keys, nil
}

// Pipeline runs fn against a pipeliner and executes it, returning the
// underlying command errors mapped through wrap.
func (c *Client) Pipeline(ctx context.Context, fn func(redis.Pipeliner)) ([]redis.Cmder, error) {
	pipe := c.rdb.Pipeline()
	fn(pipe)
	cmds, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return cmds, wrap(err)
	}
	return cmds, nil
}
