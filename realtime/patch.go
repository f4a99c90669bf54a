package realtime

import (
	"fmt"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

// patcher applies element-level changes to every cached entry of one
// collection. order, when set, re-establishes the collection's sort order
// after every insert or update.
type patcher[T cache.Element] struct {
	store *cache.Store
	topic types.Topic
	order func([]cache.Element) []cache.Element
	opts  Options
}

func (p *patcher[T]) collection() func(cache.Key) bool {
	return cache.InCollection(Collection(p.topic))
}

func (p *patcher[T]) sorted(e cache.Entry) cache.Entry {
	if p.order == nil {
		return e
	}
	return e.WithItems(p.order(e.Items))
}

// decode reads an element from ev. A payload that does not decode or
// carries no id is an identity miss.
func (p *patcher[T]) decode(ev types.RealtimeEvent) (T, error) {
	var el T
	if len(ev.Payload) == 0 {
		return el, fmt.Errorf("%s: %w", ev.Name, ErrMissingIdentity)
	}
	if err := p.opts.Marshaller.Unmarshal(ev.Payload, &el); err != nil {
		return el, fmt.Errorf("%s: %w: %v", ev.Name, ErrMissingIdentity, err)
	}
	if el.ElementID() == "" {
		return el, fmt.Errorf("%s: %w", ev.Name, ErrMissingIdentity)
	}
	return el, nil
}

func (p *patcher[T]) decodeID(ev types.RealtimeEvent) (string, error) {
	var d types.DeletedPayload
	if len(ev.Payload) == 0 {
		return "", fmt.Errorf("%s: %w", ev.Name, ErrMissingIdentity)
	}
	if err := p.opts.Marshaller.Unmarshal(ev.Payload, &d); err != nil || d.ID == "" {
		return "", fmt.Errorf("%s: %w", ev.Name, ErrMissingIdentity)
	}
	return d.ID, nil
}

// fallback invalidates the whole collection when an event cannot be
// applied precisely.
func (p *patcher[T]) fallback(err error) int {
	p.opts.Logger.Warn("realtime: patch fell back to invalidation", "topic", p.topic, "error", err)
	if p.opts.OnError != nil {
		p.opts.OnError(err)
	}
	n := p.store.Invalidate(p.collection())
	p.opts.Metrics.Invalidation(ReasonFallback, n)
	return n
}

// invalidateKeys marks the given entries stale.
func (p *patcher[T]) invalidateKeys(reason string, ids map[string]struct{}) int {
	if len(ids) == 0 {
		return 0
	}
	n := p.store.Invalidate(func(k cache.Key) bool {
		_, ok := ids[k.String()]
		return ok
	})
	p.opts.Metrics.Invalidation(reason, n)
	return n
}

// create inserts el head-first into the first page of every entry whose
// filters match it. An element already present is replaced instead, so a
// repeated create does not duplicate it.
func (p *patcher[T]) create(el T) int {
	undecidable := make(map[string]struct{})
	n := p.store.Patch(p.collection(), func(e cache.Entry) (cache.Entry, bool) {
		if next, ok := e.Replace(el); ok {
			return p.sorted(next), true
		}
		if !e.Key.FirstPage() {
			return e, false
		}
		match, decidable := e.Key.Evaluate(el)
		if !decidable {
			undecidable[e.Key.String()] = struct{}{}
			return e, false
		}
		if !match {
			return e, false
		}
		return p.sorted(e.InsertHead(el)), true
	})
	p.invalidateKeys(ReasonFallback, undecidable)
	p.opts.Metrics.Patch(string(p.topic), "create")
	return n
}

// update replaces el in place in every entry holding it, removes it from
// entries whose filters it no longer matches, and inserts it into filtered
// first pages it now matches.
func (p *patcher[T]) update(el T) int {
	id := el.ElementID()
	undecidable := make(map[string]struct{})
	n := p.store.Patch(p.collection(), func(e cache.Entry) (cache.Entry, bool) {
		held := e.Contains(id)
		match, decidable := e.Key.Evaluate(el)
		switch {
		case !decidable:
			undecidable[e.Key.String()] = struct{}{}
			return e, false
		case held && match:
			next, _ := e.Replace(el)
			return p.sorted(next), true
		case held:
			return e.Remove(id)
		case match && e.Key.Filtered() && e.Key.FirstPage():
			return p.sorted(e.InsertHead(el)), true
		}
		return e, false
	})
	p.invalidateKeys(ReasonFallback, undecidable)
	p.opts.Metrics.Patch(string(p.topic), "update")
	return n
}

// remove deletes the element with id from every entry holding it and then
// marks those entries stale, since the removal shifts page boundaries.
func (p *patcher[T]) remove(id string) int {
	touched := make(map[string]struct{})
	n := p.store.Patch(p.collection(), func(e cache.Entry) (cache.Entry, bool) {
		next, ok := e.Remove(id)
		if ok {
			touched[e.Key.String()] = struct{}{}
		}
		return next, ok
	})
	p.invalidateKeys(ReasonDelete, touched)
	p.opts.Metrics.Patch(string(p.topic), "delete")
	return n
}
