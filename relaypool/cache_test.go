package relaypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10, time.Minute)

	require.NoError(t, c.SetTTL("k", "v", 40*time.Millisecond))

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("k")
	require.False(t, ok, "entry should have expired")
	require.Equal(t, 0, c.Len(), "lazy expiry should have removed the entry")
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2, time.Minute)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))

	// touch "a" so "b" becomes least recently used
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("c", 3))

	require.True(t, c.Has("a"))
	require.False(t, c.Has("b"), "least recently used entry should be evicted")
	require.True(t, c.Has("c"))
	require.Equal(t, 2, c.Len())
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := NewCache(10, time.Minute)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))

	c.Invalidate("a")
	require.False(t, c.Has("a"))
	require.True(t, c.Has("b"))

	c.Clear()
	require.False(t, c.Has("b"))
	require.Equal(t, 0, c.Len())
}

func TestCacheStats(t *testing.T) {
	c := NewCache(10, time.Minute)

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestCacheKeyStable(t *testing.T) {
	k1 := CacheKey("wss://relay.example", `{"kinds":[13194]}`)
	k2 := CacheKey("wss://relay.example", `{"kinds":[13194]}`)
	k3 := CacheKey("wss://relay.example", `{"kinds":[23195]}`)

	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.LessOrEqual(t, len(k1), 16)
}

func TestPoolCacheWrappers(t *testing.T) {
	p := New(Config{CacheMaxSize: 4, CacheTTL: time.Minute})
	defer p.Shutdown()

	require.NoError(t, p.SetCache("info", map[string]string{"alias": "test"}))
	v, ok := p.GetCache("info")
	require.True(t, ok)
	require.NotNil(t, v)
	require.True(t, p.HasCache("info"))

	p.InvalidateCache("info")
	require.False(t, p.HasCache("info"))

	p.SetCache("x", 1)
	p.ClearCache()
	require.False(t, p.HasCache("x"))
}
