package infra

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Cache size limits to prevent unbounded memory growth
const (
	DefaultMaxCacheEntries = 256             // Maximum number of cache entries
	DefaultCacheCleanup    = 1 * time.Minute // How often to run cache cleanup
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
	EvictDeleted  EvictReason = "deleted"
)

// cacheEntry holds cached data with expiration and LRU tracking
type cacheEntry[V any] struct {
	data       V
	expiresAt  time.Time
	accessedAt time.Time // For LRU eviction
	mu         sync.Mutex
}

// Cache provides an LRU cache with per-entry TTL.
type Cache[V any] struct {
	entries    sync.Map // key (string) -> *cacheEntry[V]
	count      int64    // Atomic counter for cache size
	maxEntries int64
	mu         sync.Mutex // Protects eviction operations

	hits   atomic.Int64
	misses atomic.Int64

	onEvict func(key string, reason EvictReason)
	now     func() time.Time

	// Graceful shutdown
	stopCh   chan struct{}
	stopOnce sync.Once
}

// CacheOption configures a Cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	cleanupInterval time.Duration
	onEvict         func(key string, reason EvictReason)
	now             func() time.Time
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.cleanupInterval = d
	}
}

// WithEvictionCallback is called for every entry removed from the cache.
func WithEvictionCallback(fn func(key string, reason EvictReason)) CacheOption {
	return func(c *cacheConfig) {
		c.onEvict = fn
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		c.now = now
	}
}

// NewCache creates a new LRU cache with the specified max entries
func NewCache[V any](maxEntries int, opts ...CacheOption) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	cfg := cacheConfig{cleanupInterval: DefaultCacheCleanup, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Cache[V]{
		maxEntries: int64(maxEntries),
		onEvict:    cfg.onEvict,
		now:        cfg.now,
		stopCh:     make(chan struct{}),
	}
	go c.cleanupLoop(cfg.cleanupInterval)
	return c
}

// Get retrieves a cached value if it exists and hasn't expired
func (c *Cache[V]) Get(key string) (V, bool) {
	if entry, ok := c.entries.Load(key); ok {
		ce := entry.(*cacheEntry[V])
		now := c.now()
		if now.Before(ce.expiresAt) {
			ce.mu.Lock()
			ce.accessedAt = now
			ce.mu.Unlock()
			c.hits.Add(1)
			return ce.data, true
		}
		if c.entries.CompareAndDelete(key, entry) {
			atomic.AddInt64(&c.count, -1)
			c.evicted(key, EvictExpired)
		}
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores a value in the cache with the specified TTL. A non-positive TTL
// stores nothing.
func (c *Cache[V]) Set(key string, data V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	_, existed := c.entries.Swap(key, &cacheEntry[V]{
		data:       data,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	})

	// Only increment count for new entries
	if !existed {
		newCount := atomic.AddInt64(&c.count, 1)
		if newCount > c.maxEntries {
			go c.evictLRU(int(newCount - c.maxEntries + c.maxEntries/10))
		}
	}
}

// Delete removes a key from the cache
func (c *Cache[V]) Delete(key string) {
	if _, existed := c.entries.LoadAndDelete(key); existed {
		atomic.AddInt64(&c.count, -1)
		c.evicted(key, EvictDeleted)
	}
}

// DeletePrefix removes all cache entries with keys starting with prefix
func (c *Cache[V]) DeletePrefix(prefix string) {
	c.entries.Range(func(key, _ any) bool {
		if k := key.(string); len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			c.Delete(k)
		}
		return true
	})
}

// Size returns the current number of entries in the cache
func (c *Cache[V]) Size() int64 {
	return atomic.LoadInt64(&c.count)
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size   int64 `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats returns hit and miss counts since creation.
func (c *Cache[V]) Stats() CacheStats {
	return CacheStats{Size: c.Size(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close stops the background cleanup goroutine
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache[V]) evicted(key string, reason EvictReason) {
	if c.onEvict != nil {
		c.onEvict(key, reason)
	}
}

// cleanupLoop periodically cleans up expired entries
func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired entries and evicts LRU entries if over limit
func (c *Cache[V]) cleanup() {
	now := c.now()

	c.entries.Range(func(key, value any) bool {
		ce := value.(*cacheEntry[V])
		if now.After(ce.expiresAt) && c.entries.CompareAndDelete(key, value) {
			atomic.AddInt64(&c.count, -1)
			c.evicted(key.(string), EvictExpired)
		}
		return true
	})

	currentCount := atomic.LoadInt64(&c.count)
	if currentCount > c.maxEntries {
		c.evictLRU(int(currentCount - c.maxEntries + c.maxEntries/10)) // Evict 10% extra
	}
}

// evictLRU removes the least recently used entries
func (c *Cache[V]) evictLRU(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type entryInfo struct {
		key        string
		accessedAt time.Time
	}
	var entries []entryInfo

	c.entries.Range(func(key, value any) bool {
		ce := value.(*cacheEntry[V])
		ce.mu.Lock()
		accessedAt := ce.accessedAt
		ce.mu.Unlock()
		entries = append(entries, entryInfo{key: key.(string), accessedAt: accessedAt})
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessedAt.Before(entries[j].accessedAt)
	})

	for i := 0; i < count && i < len(entries); i++ {
		if _, existed := c.entries.LoadAndDelete(entries[i].key); existed {
			atomic.AddInt64(&c.count, -1)
			c.evicted(entries[i].key, EvictCapacity)
		}
	}
}
