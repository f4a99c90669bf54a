package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

// fakeChannel is an in-process push channel driven by the test.
type fakeChannel struct {
	mu         sync.Mutex
	subscribed [][]string
	events     map[int]func(types.RealtimeEvent)
	connects   map[int]func()
	next       int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events:   make(map[int]func(types.RealtimeEvent)),
		connects: make(map[int]func()),
	}
}

func (f *fakeChannel) Subscribe(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, names)
	return nil
}

func (f *fakeChannel) OnEvent(fn func(types.RealtimeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.events[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.events, id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) OnConnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.connects[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.connects, id)
		f.mu.Unlock()
	}
}

func (f *fakeChannel) OnDisconnect(fn func()) func() { return func() {} }

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) connect() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.connects))
	for _, fn := range f.connects {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeChannel) push(ev types.RealtimeEvent) {
	f.mu.Lock()
	fns := make([]func(types.RealtimeEvent), 0, len(f.events))
	for _, fn := range f.events {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeChannel) handlers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events) + len(f.connects)
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.NewStore(cache.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(t *testing.T, name string, payload any) types.RealtimeEvent {
	t.Helper()
	if payload == nil {
		return types.RealtimeEvent{Name: name}
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.RealtimeEvent{Name: name, Payload: data}
}

func ids(e cache.Entry) []string {
	out := make([]string, len(e.Items))
	for i, el := range e.Items {
		out[i] = el.ElementID()
	}
	return out
}

func elements[T cache.Element](items ...T) []cache.Element {
	out := make([]cache.Element, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func mustGet(t *testing.T, s *cache.Store, k cache.Key) cache.Entry {
	t.Helper()
	e, ok := s.Get(k)
	require.True(t, ok, "entry %s missing", k)
	return e
}
