// Package sync provides the push channels that deliver realtime events
// from the backend to the client.
package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/huykn/pos-sync/types"
)

// ErrClosed is returned when a closed channel is used.
var ErrClosed = errors.New("push channel is closed")

// ErrAlreadySubscribed is returned by a second Subscribe call.
var ErrAlreadySubscribed = errors.New("push channel already subscribed")

// Channel is a push transport for realtime events. Callbacks run on the
// channel's read goroutine and must not block for long.
type Channel interface {
	// Subscribe starts receiving the named events. It may be called once.
	Subscribe(ctx context.Context, names []string) error

	// OnEvent registers fn for every received event. Calling cancel
	// unregisters it.
	OnEvent(fn func(types.RealtimeEvent)) (cancel func())

	// OnConnect registers fn for every established connection, the first
	// one included.
	OnConnect(fn func()) (cancel func())

	// OnDisconnect registers fn for every established connection that is
	// lost while the channel is open. Close does not fire it.
	OnDisconnect(fn func()) (cancel func())

	// Close stops the channel and waits for its goroutines.
	Close() error
}

// hooks is a set of callbacks addressed by handle.
type hooks[T any] struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(T)
}

func (h *hooks[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[uint64]func(T))
	}
	h.next++
	id := h.next
	h.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.fns, id)
			h.mu.Unlock()
		})
	}
}

func (h *hooks[T]) emit(v T) {
	h.mu.RLock()
	fns := make([]func(T), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (h *hooks[T]) clear() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}

func (h *hooks[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fns)
}
