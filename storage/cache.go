package storage

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/transitstore/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCacheSize is the capacity of an engine's entity cache.
const DefaultCacheSize = 100

// ActiveLRUCache is an LRU cache that, when full, first evicts every entry
// not accessed during the current access cycle and only then falls back to
// plain least-recently-used eviction. Misses only cost a reload.
type ActiveLRUCache[V any] struct {
	mu       sync.Mutex
	maxSize  int
	entries  *lru.Cache[string, V]
	accessed map[string]struct{}
	hits     prometheus.Counter
	misses   prometheus.Counter
}

// EntityCache caches deserialized entities by encoded key.
type EntityCache = ActiveLRUCache[*core.Entity]

// CacheOption configures an ActiveLRUCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

// WithCacheCounters counts hits and misses on the given counters.
func WithCacheCounters(hits, misses prometheus.Counter) CacheOption {
	return func(o *cacheOptions) {
		o.hits = hits
		o.misses = misses
	}
}

// NewActiveLRUCache creates a cache holding at most maxSize entries.
func NewActiveLRUCache[V any](maxSize int, opts ...CacheOption) (*ActiveLRUCache[V], error) {
	options := &cacheOptions{}
	for _, opt := range opts {
		opt(options)
	}
	// One spare slot: eviction below happens before the underlying cache
	// would ever evict on its own.
	entries, err := lru.New[string, V](maxSize + 1)
	if err != nil {
		return nil, err
	}
	return &ActiveLRUCache[V]{
		maxSize:  maxSize,
		entries:  entries,
		accessed: make(map[string]struct{}),
		hits:     options.hits,
		misses:   options.misses,
	}, nil
}

// Get returns the cached value for key, or calls load and caches what it
// returns when found is true. Load errors are returned and nothing is cached.
func (c *ActiveLRUCache[V]) Get(key []byte, load func() (value V, found bool, err error)) (V, bool, error) {
	k := string(key)

	c.mu.Lock()
	if v, ok := c.entries.Get(k); ok {
		c.accessed[k] = struct{}{}
		c.mu.Unlock()
		if c.hits != nil {
			c.hits.Inc()
		}
		return v, true, nil
	}
	c.mu.Unlock()
	if c.misses != nil {
		c.misses.Inc()
	}

	v, found, err := load()
	if err != nil || !found {
		return v, found, err
	}
	c.Add(key, v)
	return v, true, nil
}

// Add inserts a value, evicting first if the cache is full.
func (c *ActiveLRUCache[V]) Add(key []byte, value V) {
	k := string(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.entries.Contains(k) && c.entries.Len() >= c.maxSize {
		c.evict()
	}
	c.entries.Add(k, value)
	c.accessed[k] = struct{}{}
}

func (c *ActiveLRUCache[V]) evict() {
	for _, k := range c.entries.Keys() {
		if _, ok := c.accessed[k]; !ok {
			c.entries.Remove(k)
		}
	}
	for c.entries.Len() > 0 && c.entries.Len() >= c.maxSize {
		k, _, ok := c.entries.RemoveOldest()
		if !ok {
			break
		}
		delete(c.accessed, k)
	}
}

// Contains reports whether key is cached without touching its recency.
func (c *ActiveLRUCache[V]) Contains(key []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(string(key))
}

// Len returns the number of cached entries.
func (c *ActiveLRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// NewCycle starts a new access cycle without evicting anything.
func (c *ActiveLRUCache[V]) NewCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.accessed)
}

// Drop empties the cache.
func (c *ActiveLRUCache[V]) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	clear(c.accessed)
}
