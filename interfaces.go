package possync

import (
	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/offline"
	"github.com/huykn/pos-sync/queue"
	"github.com/huykn/pos-sync/types"
)

// Logger is an alias for types.Logger.
type Logger = types.Logger

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// Key is an alias for cache.Key.
type Key = cache.Key

// Entry is an alias for cache.Entry.
type Entry = cache.Entry

// Element is an alias for cache.Element.
type Element = cache.Element

// Fetcher is an alias for cache.Fetcher.
type Fetcher = cache.Fetcher

// Policy is an alias for queue.Policy.
type Policy = queue.Policy

// Result is an alias for offline.Result.
type Result = offline.Result

// MutationAction is an alias for types.MutationAction.
type MutationAction = types.MutationAction

// ActionType is an alias for types.ActionType.
type ActionType = types.ActionType

// RealtimeEvent is an alias for types.RealtimeEvent.
type RealtimeEvent = types.RealtimeEvent

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return queue.DefaultPolicy()
}

// NewLRUCacheFactory creates a factory for LRU local caches.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return cache.NewLRUCacheFactory(maxSize)
}

// NewLFUCacheFactory creates a factory for LFU local caches.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return cache.NewLFUCacheFactory(config)
}
