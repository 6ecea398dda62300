package relaypool

import (
	"container/list"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Backend is a remote key/value store the cache can delegate to. Values are
// JSON bytes; TTL enforcement is the backend's job.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

type cacheEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is a bounded TTL key/value store. Expiry is lazy (checked on
// access); once the size bound is exceeded the least-recently-used entry is
// evicted. With a remote Backend attached, values round-trip through JSON
// and reads return json.RawMessage.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	maxSize    int
	defaultTTL time.Duration
	backend    Backend

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates an in-memory cache with the given bound and default TTL.
func NewCache(maxSize int, defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

// WithBackend attaches a remote backend (e.g. Redis) and returns the cache.
func (c *Cache) WithBackend(b Backend) *Cache {
	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
	return c
}

// Set stores a value under the default TTL.
func (c *Cache) Set(key string, value interface{}) error {
	return c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL.
func (c *Cache) SetTTL(key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return backend.Set(ctx, key, data, ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToFront(el)
		return nil
	}
	el := c.lru.PushFront(&cacheEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.entries[key] = el
	if c.lru.Len() > c.maxSize {
		c.evictOldestLocked()
	}
	return nil
}

// Get returns the cached value, expiring it lazily if its TTL has elapsed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		data, ok, err := backend.Get(ctx, key)
		if err != nil || !ok {
			c.misses.Add(1)
			return nil, false
		}
		c.hits.Add(1)
		return json.RawMessage(data), true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return entry.value, true
}

// Has reports whether the key holds an unexpired entry.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Invalidate removes one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		backend.Delete(ctx, key)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		backend.Clear(ctx)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of entries currently held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the remote backend, if any.
func (c *Cache) Close() {
	c.mu.Lock()
	backend := c.backend
	c.backend = nil
	c.mu.Unlock()
	if backend != nil {
		backend.Close()
	}
}

func (c *Cache) evictOldestLocked() {
	if el := c.lru.Back(); el != nil {
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
}

// CacheKey builds a short stable key from its parts. Long composite keys
// (endpoint + filter JSON) hash down to 16 hex chars.
func CacheKey(parts ...string) string {
	h := xxhash.New()
	for _, part := range parts {
		h.WriteString(part)
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
