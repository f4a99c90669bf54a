package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU cache instances.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU cache instance.
func (lcf *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(lcf.maxSize)
}

// LRUCache keeps the most recently released entries and drops the oldest
// once maxSize is reached.
type LRUCache struct {
	cache     *lru.Cache[string, any]
	hits      int64
	misses    int64
	evictions int64
	maxSize   int64
}

// NewLRUCache creates a new LRU-based local cache.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	lc := &LRUCache{maxSize: int64(maxSize)}
	cache, err := lru.NewWithEvict[string, any](maxSize, func(string, any) {
		atomic.AddInt64(&lc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

// Get retrieves a value from the local cache.
func (lc *LRUCache) Get(key string) (any, bool) {
	value, found := lc.cache.Get(key)
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set stores a value in the local cache.
func (lc *LRUCache) Set(key string, value any, cost int64) bool {
	lc.cache.Add(key, value)
	return true
}

// Delete removes a value from the local cache. Explicit removal is not
// counted as an eviction.
func (lc *LRUCache) Delete(key string) {
	if lc.cache.Contains(key) {
		lc.cache.Remove(key)
		atomic.AddInt64(&lc.evictions, -1)
	}
}

// Clear removes all values from the local cache.
func (lc *LRUCache) Clear() {
	n := lc.cache.Len()
	lc.cache.Purge()
	atomic.AddInt64(&lc.evictions, -int64(n))
}

// Close closes the local cache.
func (lc *LRUCache) Close() {
	lc.Clear()
}

// Metrics returns cache metrics.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.Len()),
	}
}
