// Package cache is the low-latency key/value + pub/sub fabric sitting in
// front of the durable store: current-version snapshots and fanout
// notifications flow through it, with the store as the fallback of record.
package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/continent/continent/errs"
)

// Backend is the subset of operations this package needs, factored out so
// tests can substitute an in-process fake (see memcache.go) instead of
// dialing a real Redis.
type Backend interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	HSet(ctx context.Context, key string, values map[string]any) error
	Publish(ctx context.Context, topic string, payload any) error
}

// Cache wraps a Backend with the hot cache's five contracts plus the
// key/topic namespace builders.
type Cache struct {
	backend Backend
}

// New wires a Cache around an already-configured Backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// NewFromURL parses a redis:// URL and wraps the resulting client.
func NewFromURL(redisURL string) (*Cache, errors.E) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return New(&redisBackend{client: redis.NewClient(opts)}), nil
}

// SetNXWithTTL reserves key with value if it does not already exist,
// returning true iff this call was the first writer.
func (c *Cache) SetNXWithTTL(ctx context.Context, key string, value any, ttl time.Duration) (bool, errors.E) {
	ok, err := c.backend.SetNX(ctx, key, value, ttl)
	if err != nil {
		return false, wrapCacheErr(err)
	}
	return ok, nil
}

// SetWithTTL unconditionally writes key with an expiration.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) errors.E {
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		return wrapCacheErr(err)
	}
	return nil
}

// Get reads key, returning (nil, false, nil) on a cache miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, errors.E) {
	b, err := c.backend.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapCacheErr(err)
	}
	return b, true, nil
}

// HSetMapping writes a hash of field/value pairs. No current pipeline
// step needs a hash structure (snapshots and lease claims are single
// values); it is part of the cache contract for consumers that want
// field-level reads without a full snapshot fetch.
func (c *Cache) HSetMapping(ctx context.Context, key string, values map[string]any) errors.E {
	if err := c.backend.HSet(ctx, key, values); err != nil {
		return wrapCacheErr(err)
	}
	return nil
}

// Publish is a best-effort fanout; delivery is not guaranteed and callers
// must be willing to fall back to the durable store. Structured payloads
// are encoded as JSON on the wire, since Redis publishes byte payloads
// only.
func (c *Cache) Publish(ctx context.Context, topic string, payload any) errors.E {
	wire := payload
	switch payload.(type) {
	case string, []byte:
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.WithStack(err)
		}
		wire = b
	}
	if err := c.backend.Publish(ctx, topic, wire); err != nil {
		return wrapCacheErr(err)
	}
	return nil
}

func wrapCacheErr(err error) errors.E {
	return errors.WrapWith(errors.WithStack(err), errs.ErrCacheUnavailable)
}

// redisBackend adapts *redis.Client to Backend.
type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

func (r *redisBackend) HSet(ctx context.Context, key string, values map[string]any) error {
	return r.client.HSet(ctx, key, values).Err()
}

func (r *redisBackend) Publish(ctx context.Context, topic string, payload any) error {
	return r.client.Publish(ctx, topic, payload).Err()
}
