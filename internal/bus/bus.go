// Package bus wraps the shared Redis-compatible key/value+list store that
// every other dispatcher component communicates through (spec.md §2: the
// "Shared Bus"). No component outside this package talks to go-redis
// directly.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get-style helpers when a key is absent, so
// callers can distinguish "absent" from a transport error without
// depending on go-redis's sentinel.
var ErrNotFound = errors.New("bus: key not found")

// Bus is the shared key/value+list store used as the cross-process control
// channel (spec.md §2 component 1).
type Bus struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to the bus at url, applying keyPrefix to every key and
// channel name so that multiple deployments can share one Redis instance.
func New(url, keyPrefix string) (*Bus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: ping: %w", err)
	}

	return &Bus{client: client, keyPrefix: keyPrefix}, nil
}

// Close releases the underlying connection pool.
func (b *Bus) Close() error {
	return b.client.Close()
}

func (b *Bus) key(k string) string {
	if b.keyPrefix == "" {
		return k
	}
	return b.keyPrefix + k
}

// GetString returns the raw string value at key, or ErrNotFound if absent.
func (b *Bus) GetString(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("bus: get %s: %w", key, err)
	}
	return v, nil
}

// SetString stores value at key with the given TTL (0 = no expiry).
func (b *Bus) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("bus: set %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it at key with the given TTL.
func (b *Bus) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", key, err)
	}
	return b.SetString(ctx, key, string(data), ttl)
}

// GetJSON fetches key and unmarshals it into dst. Returns ErrNotFound if absent.
func (b *Bus) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := b.GetString(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("bus: unmarshal %s: %w", key, err)
	}
	return nil
}

// Del deletes the given keys, ignoring keys that don't exist.
func (b *Bus) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.key(k)
	}
	if err := b.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("bus: del %v: %w", keys, err)
	}
	return nil
}

// Exists reports whether key is currently set.
func (b *Bus) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("bus: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetNX sets key to value only if it does not already exist, returning
// whether the set happened.
func (b *Bus) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("bus: setnx %s: %w", key, err)
	}
	return ok, nil
}

// LPush left-pushes value (as JSON) onto the list at key.
func (b *Bus) LPush(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", key, err)
	}
	if err := b.client.LPush(ctx, b.key(key), data).Err(); err != nil {
		return fmt.Errorf("bus: lpush %s: %w", key, err)
	}
	return nil
}

// LPop left-pops one raw string element from the list at key, or
// ErrNotFound if the list is empty.
func (b *Bus) LPop(ctx context.Context, key string) (string, error) {
	v, err := b.client.LPop(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("bus: lpop %s: %w", key, err)
	}
	return v, nil
}

// LRange returns the full contents of the list at key without removing
// anything, used when scanning pending commands for teardown (spec.md §4.3
// Terminating state).
func (b *Bus) LRange(ctx context.Context, key string) ([]string, error) {
	v, err := b.client.LRange(ctx, b.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: lrange %s: %w", key, err)
	}
	return v, nil
}

// Publish marshals msg as JSON and publishes it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal publish %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, b.key(channel), data).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", channel, err)
	}
	return nil
}

// Eval runs a Lua script with the bus's key prefix applied to keys, for
// the rare operation (e.g. a compare-and-delete) that needs atomicity
// beyond a single Redis command.
func (b *Bus) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.key(k)
	}
	v, err := b.client.Eval(ctx, script, prefixed, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("bus: eval: %w", err)
	}
	return v, nil
}

// Raw exposes the underlying client for operations (e.g. pub/sub) that
// need it directly. Prefer adding a wrapper method over reaching for this.
func (b *Bus) Raw() *redis.Client {
	return b.client
}
