package cache

import (
	"sync/atomic"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a frequency-based pool of released entries. Entries that are
// re-subscribed often survive longer than one-off queries.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&rc.evictions, 1)
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache
	return rc, nil
}

// Get retrieves a value from the local cache.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if found {
		atomic.AddInt64(&rc.hits, 1)
	} else {
		atomic.AddInt64(&rc.misses, 1)
	}
	return value, found
}

// Set stores a value and waits for the write buffer to apply it, so a
// following Get observes it. Ristretto may still reject the value under
// admission pressure; the store then refetches on next read.
func (rc *LFUCache) Set(key string, value any, cost int64) bool {
	ok := rc.cache.Set(key, value, cost)
	rc.cache.Wait()
	return ok
}

// Delete removes a value from the local cache.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      rc.cache.MaxCost(),
	}
}
