package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/continent/continent/cache"
)

func TestSetNXWithTTLReservesOnce(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemBackend())

	first, errE := c.SetNXWithTTL(ctx, "k", "a", cache.TTL)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.True(t, first)

	second, errE := c.SetNXWithTTL(ctx, "k", "b", cache.TTL)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.False(t, second)

	v, found, errE := c.Get(ctx, "k")
	require.NoError(t, errE, "% -+#.1v", errE)
	require.True(t, found)
	assert.Equal(t, "a", string(v))
}

func TestGetMissReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemBackend())

	v, found, errE := c.Get(ctx, "missing")
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestHSetMappingWritesFields(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemBackend()
	c := cache.New(backend)

	errE := c.HSetMapping(ctx, "h", map[string]any{"a": "1"})
	require.NoError(t, errE, "% -+#.1v", errE)

	errE = c.HSetMapping(ctx, "h", map[string]any{"b": "2"})
	require.NoError(t, errE, "% -+#.1v", errE)
}

func TestPublishRecordsMessage(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemBackend()
	c := cache.New(backend)

	errE := c.Publish(ctx, "topic:D1", map[string]any{"type": "continent_update"})
	require.NoError(t, errE, "% -+#.1v", errE)

	require.Len(t, backend.Published, 1)
	assert.Equal(t, "topic:D1", backend.Published[0].Topic)
}
