package cache

import (
	"errors"
	"time"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	// Each entry costs 1.
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// Options configures a Store.
type Options struct {
	// LocalCacheConfig configures the pool of unreferenced entries.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when a background fetch fails.
	OnError func(error)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns default store options.
func DefaultOptions() Options {
	return Options{
		LocalCacheConfig: DefaultLocalCacheConfig(),
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        10000,
		MaxCost:            1000,
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            1000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.LocalCacheFactory != nil {
		return nil
	}
	if o.LocalCacheConfig.MaxSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// ErrStoreClosed is returned when operations are performed on a closed store.
var ErrStoreClosed = errors.New("cache store is closed")
