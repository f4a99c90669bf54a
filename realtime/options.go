package realtime

import (
	"errors"
	"time"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/metrics"
	"github.com/huykn/pos-sync/types"
)

// ErrMissingIdentity is reported when an event payload lacks the identity
// of the element it describes.
var ErrMissingIdentity = errors.New("event payload has no element identity")

// ErrRouterClosed is returned when a closed router is started.
var ErrRouterClosed = errors.New("realtime router is closed")

// Invalidation reasons recorded in metrics.
const (
	ReasonDebounce  = "debounce"
	ReasonReconnect = "reconnect"
	ReasonDelete    = "delete"
	ReasonFallback  = "fallback"
)

// Options configures a Router and its patchers.
type Options struct {
	// Debounce is the quiet window for bulk invalidation.
	Debounce time.Duration

	// Marshaller decodes event payloads. Defaults to JSON.
	Marshaller cache.Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger types.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// Metrics records events, patches and invalidations. May be nil.
	Metrics *metrics.Collector

	// OnError is called when an event cannot be applied as a patch and
	// falls back to invalidation.
	OnError func(error)
}

// DefaultOptions returns default router options.
func DefaultOptions() Options {
	return Options{Debounce: DefaultDebounce}
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Marshaller == nil {
		o.Marshaller = cache.NewJSONMarshaller()
	}
	if o.Logger == nil {
		o.Logger = types.NewNoOpLogger()
	}
	return o
}

// Collection returns the cache collection that holds a topic's elements.
func Collection(t types.Topic) string { return string(t) }
