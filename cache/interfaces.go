package cache

import (
	"github.com/huykn/pos-sync/types"
)

// Logger is an alias for types.Logger.
type Logger = types.Logger

// Marshaller defines the interface for JSON marshalling/unmarshalling.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache holds entries no subscriber references any more. Its
// eviction policy is the garbage collector of the Store.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Element is one member of a cached collection.
type Element interface {
	// ElementID returns the element identity.
	ElementID() string

	// Attr returns the value of a discriminator field. ok is false when the
	// element has no such field, so the filter cannot be evaluated.
	Attr(name string) (value string, ok bool)
}

// Stats represents store statistics.
type Stats struct {
	Hits          int64
	Misses        int64
	Fetches       int64
	FetchErrors   int64
	Invalidations int64
	Patches       int64
	Entries       int64
	Active        int64
}
