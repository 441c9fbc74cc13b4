package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemBackend is a minimal in-process Backend fake for tests: a narrow
// interface implementation next to the real one, instead of deep
// mocking.
type MemBackend struct {
	mu        sync.Mutex
	values    map[string][]byte
	hashes    map[string]map[string]any
	expires   map[string]time.Time
	Published []PublishedMessage
}

// PublishedMessage records one call to Publish, for test assertions.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// NewMemBackend builds an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		values:    make(map[string][]byte),
		hashes:    make(map[string]map[string]any),
		expires:   make(map[string]time.Time),
		Published: nil,
	}
}

func (m *MemBackend) expired(key string) bool {
	exp, ok := m.expires[key]
	return ok && time.Now().After(exp)
}

func (m *MemBackend) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.values[key]; exists && !m.expired(key) {
		return false, nil
	}
	m.values[key] = toBytes(value)
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *MemBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = toBytes(value)
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *MemBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key) {
		delete(m.values, key)
		return nil, redis.Nil
	}
	v, ok := m.values[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *MemBackend) HSet(_ context.Context, key string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]any)
		m.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
	return nil
}

func (m *MemBackend) Publish(_ context.Context, topic string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = append(m.Published, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

func toBytes(value any) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(value.(string)) //nolint:forcetypeassert
	}
}
