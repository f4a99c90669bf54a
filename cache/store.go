package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/huykn/pos-sync/types"
)

// Fetcher loads a query result from the remote store.
type Fetcher func(ctx context.Context, key Key) (items []Element, total int, err error)

// Store is the query cache. Entries are addressed by Key and replaced
// wholesale on every change, so concurrent writers never interleave partial
// state: the later write wins.
//
// Entries with at least one subscriber are pinned. When the last subscriber
// leaves, the entry moves to the LocalCache and is dropped when that cache
// evicts it.
type Store struct {
	mu      sync.Mutex
	active  map[string]*Entry
	refs    map[string]int
	keys    map[string]Key
	local   LocalCache
	group   singleflight.Group
	version uint64
	opts    Options
	stats   Stats
	closed  int32
}

// NewStore creates a Store.
func NewStore(opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig.MaxSize)
	}
	if opts.Logger == nil {
		opts.Logger = types.NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}
	return &Store{
		active: make(map[string]*Entry),
		refs:   make(map[string]int),
		keys:   make(map[string]Key),
		local:  local,
		opts:   opts,
	}, nil
}

// lookup must be called with mu held.
func (s *Store) lookup(id string) (*Entry, bool) {
	if e, ok := s.active[id]; ok {
		return e, true
	}
	if v, ok := s.local.Get(id); ok {
		if e, ok := v.(*Entry); ok {
			return e, true
		}
	}
	// Evicted by the local cache.
	delete(s.keys, id)
	return nil, false
}

// put must be called with mu held.
func (s *Store) put(e Entry) *Entry {
	s.version++
	e.Version = s.version
	id := e.Key.String()
	stored := &e
	s.keys[id] = e.Key
	if s.refs[id] > 0 {
		s.active[id] = stored
	} else {
		s.local.Set(id, stored, 1)
	}
	return stored
}

// Get returns the entry for key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key.String())
	if !ok {
		atomic.AddInt64(&s.stats.Misses, 1)
		return Entry{}, false
	}
	atomic.AddInt64(&s.stats.Hits, 1)
	return *e, true
}

// Set stores a direct query response for key and clears its stale mark.
func (s *Store) Set(key Key, items []Element, total int) Entry {
	cp := make([]Element, len(items))
	copy(cp, items)

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.put(Entry{
		Key:       key,
		Items:     cp,
		Total:     total,
		UpdatedAt: s.opts.Now(),
	})
	return *e
}

// Query returns the entry for key, fetching it when missing or stale.
// Concurrent callers for the same key share one fetch.
func (s *Store) Query(ctx context.Context, key Key, fetch Fetcher) (Entry, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return Entry{}, ErrStoreClosed
	}
	if e, ok := s.Get(key); ok && !e.Stale {
		return e, nil
	}

	id := key.String()
	v, err, _ := s.group.Do(id, func() (any, error) {
		atomic.AddInt64(&s.stats.Fetches, 1)
		if s.opts.DebugMode {
			s.opts.Logger.Debug("cache: fetching", "key", id)
		}
		items, total, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.Set(key, items, total), nil
	})
	if err != nil {
		atomic.AddInt64(&s.stats.FetchErrors, 1)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return Entry{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return v.(Entry), nil
}

// Subscribe pins key's entry until the returned release function is called.
// Release is idempotent.
func (s *Store) Subscribe(key Key) (release func()) {
	id := key.String()

	s.mu.Lock()
	s.refs[id]++
	if s.refs[id] == 1 {
		s.keys[id] = key
		if v, ok := s.local.Get(id); ok {
			if e, ok := v.(*Entry); ok {
				s.active[id] = e
			}
			s.local.Delete(id)
		}
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(id) })
	}
}

func (s *Store) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[id]--
	if s.refs[id] > 0 {
		return
	}
	delete(s.refs, id)
	e, ok := s.active[id]
	if !ok {
		delete(s.keys, id)
		return
	}
	delete(s.active, id)
	s.local.Set(id, e, 1)
	if s.opts.DebugMode {
		s.opts.Logger.Debug("cache: entry released", "key", id)
	}
}

// Keys returns the keys of all live entries matching pred, sorted by their
// canonical form.
func (s *Store) Keys(pred func(Key) bool) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matching(pred)
}

// matching must be called with mu held.
func (s *Store) matching(pred func(Key) bool) []Key {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Key
	for _, id := range ids {
		if _, ok := s.lookup(id); !ok {
			continue
		}
		if k := s.keys[id]; pred == nil || pred(k) {
			out = append(out, k)
		}
	}
	return out
}

// Invalidate marks every entry whose key matches pred stale, so the next
// Query refetches it. It returns the number of entries newly marked.
func (s *Store) Invalidate(pred func(Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range s.matching(pred) {
		e, _ := s.lookup(k.String())
		if e.Stale {
			continue
		}
		next := *e
		next.Stale = true
		s.put(next)
		n++
	}
	atomic.AddInt64(&s.stats.Invalidations, int64(n))
	if n > 0 && s.opts.DebugMode {
		s.opts.Logger.Debug("cache: invalidated", "entries", n)
	}
	return n
}

// Patch applies fn to every entry whose key matches pred and stores the
// result when fn reports a change. Patching never changes the stale mark.
// It returns the number of entries changed.
func (s *Store) Patch(pred func(Key) bool, fn func(Entry) (Entry, bool)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range s.matching(pred) {
		e, _ := s.lookup(k.String())
		next, changed := fn(*e)
		if !changed {
			continue
		}
		next.Key = e.Key
		next.Stale = e.Stale
		next.UpdatedAt = s.opts.Now()
		s.put(next)
		n++
	}
	atomic.AddInt64(&s.stats.Patches, int64(n))
	return n
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	active := int64(len(s.active))
	entries := int64(len(s.keys))
	s.mu.Unlock()
	return Stats{
		Hits:          atomic.LoadInt64(&s.stats.Hits),
		Misses:        atomic.LoadInt64(&s.stats.Misses),
		Fetches:       atomic.LoadInt64(&s.stats.Fetches),
		FetchErrors:   atomic.LoadInt64(&s.stats.FetchErrors),
		Invalidations: atomic.LoadInt64(&s.stats.Invalidations),
		Patches:       atomic.LoadInt64(&s.stats.Patches),
		Entries:       entries,
		Active:        active,
	}
}

// Close releases the local cache.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local.Close()
	s.active = make(map[string]*Entry)
	s.keys = make(map[string]Key)
	return nil
}
