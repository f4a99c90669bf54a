// Package realtime reconciles the query cache with events pushed by the
// backend.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/huykn/pos-sync/cache"
	pushsync "github.com/huykn/pos-sync/sync"
	"github.com/huykn/pos-sync/types"
)

// Router subscribes to every realtime event once and routes each to a
// reconciliation strategy. Product and order-queue events are patched into
// the cache. Every other topic is invalidated through a Debouncer.
type Router struct {
	ch        pushsync.Channel
	store     *cache.Store
	opts      Options
	debouncer *Debouncer
	products  *ProductPatcher
	queue     *QueuePatcher

	mu       sync.Mutex
	handles  []func()
	connects int32
	started  bool
	closed   bool
}

// NewRouter creates a Router. It does nothing until Start.
func NewRouter(ch pushsync.Channel, store *cache.Store, opts Options) *Router {
	opts = opts.withDefaults()
	r := &Router{
		ch:       ch,
		store:    store,
		opts:     opts,
		products: NewProductPatcher(store, opts),
		queue:    NewQueuePatcher(store, opts),
	}
	r.debouncer = NewDebouncer(opts.Debounce, r.invalidate)
	return r
}

// Start registers the router's handlers and subscribes to the full event
// name set. Calling Start again is a no-op.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	if r.started {
		return nil
	}

	r.handles = append(r.handles,
		r.ch.OnConnect(r.connected),
		r.ch.OnEvent(r.Handle),
	)
	if err := r.ch.Subscribe(ctx, types.EventNames()); err != nil {
		r.release()
		return err
	}
	r.started = true
	return nil
}

// Close unregisters the router's handlers and drops any pending debounced
// invalidation. It does not close the channel.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.release()
	r.debouncer.Stop()
	return nil
}

// release must be called with mu held.
func (r *Router) release() {
	for _, cancel := range r.handles {
		cancel()
	}
	r.handles = nil
}

// connected handles a (re)connection. The first connection finds nothing
// stale; a later one may have missed events while down, so every cached
// entry is invalidated.
func (r *Router) connected() {
	if atomic.AddInt32(&r.connects, 1) == 1 {
		r.opts.Logger.Debug("realtime: connected")
		return
	}
	invalidated := r.store.Invalidate(cache.All)
	r.opts.Metrics.Invalidation(ReasonReconnect, invalidated)
	r.opts.Logger.Info("realtime: reconnected, cache invalidated", "entries", invalidated)
}

// Handle routes one event. An event listened for by several topics reaches
// each of them.
func (r *Router) Handle(ev types.RealtimeEvent) {
	topic := ev.Topic()
	r.opts.Metrics.Event(string(topic))
	if r.opts.DebugMode {
		r.opts.Logger.Debug("realtime: event", "name", ev.Name)
	}

	var bulk []string
	for _, listener := range types.Listeners(ev.Name) {
		switch {
		case listener == types.TopicProduct && topic == types.TopicProduct:
			r.products.Apply(ev)
		case listener == types.TopicOrderQueue && topic == types.TopicOrderQueue:
			r.queue.Apply(ev)
		default:
			bulk = append(bulk, Collection(listener))
		}
	}
	if len(bulk) > 0 {
		r.debouncer.Add(bulk...)
	}
}

// Flush runs any pending debounced invalidation immediately.
func (r *Router) Flush() { r.debouncer.Flush() }

func (r *Router) invalidate(collections []string) {
	n := r.store.Invalidate(cache.InCollection(collections...))
	r.opts.Metrics.Invalidation(ReasonDebounce, n)
	if r.opts.DebugMode {
		r.opts.Logger.Debug("realtime: debounced invalidation", "collections", collections, "entries", n)
	}
}
