package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/ivfbuild/internal/resource"
)

func TestLRUBlockCache(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRUBlockCache(50, rc) // Cache limit 50, Global limit 100
	ctx := context.Background()

	k1 := Key{Path: "a", Block: 1}
	k2 := Key{Path: "a", Block: 2}
	k3 := Key{Path: "a", Block: 3}

	c.Set(ctx, k1, make([]byte, 20))
	c.Set(ctx, k2, make([]byte, 20))
	assert.Equal(t, int64(40), c.Size())
	assert.Equal(t, int64(40), rc.MemoryUsage())

	// 60 > 50 evicts k1.
	c.Set(ctx, k3, make([]byte, 20))
	assert.Equal(t, int64(40), c.Size())
	assert.Equal(t, int64(40), rc.MemoryUsage())

	_, ok := c.Get(ctx, k1)
	assert.False(t, ok, "k1 should be evicted")
	_, ok = c.Get(ctx, k2)
	assert.True(t, ok, "k2 should be present")
	_, ok = c.Get(ctx, k3)
	assert.True(t, ok, "k3 should be present")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUBlockCache_GlobalLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 30})
	c := NewLRUBlockCache(100, rc)
	ctx := context.Background()

	c.Set(ctx, Key{Path: "a", Block: 1}, make([]byte, 20))
	c.Set(ctx, Key{Path: "a", Block: 2}, make([]byte, 20))

	assert.Equal(t, 1, c.Len(), "second block exceeds the shared budget")
	assert.Equal(t, int64(20), rc.MemoryUsage())
}

func TestLRUBlockCache_UpdateAndInvalidate(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := NewLRUBlockCache(50, rc)
	ctx := context.Background()
	k := Key{Path: "a", Block: 1}

	c.Set(ctx, k, make([]byte, 60))
	_, ok := c.Get(ctx, k)
	assert.False(t, ok, "item larger than capacity is not cached")

	c.Set(ctx, k, make([]byte, 10))
	c.Set(ctx, k, make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
	assert.Equal(t, int64(20), rc.MemoryUsage())

	c.Set(ctx, Key{Path: "b", Block: 1}, make([]byte, 5))
	c.Invalidate(func(key Key) bool { return key.Path == "a" })
	assert.Equal(t, int64(5), c.Size())
	assert.Equal(t, int64(5), rc.MemoryUsage())
}
