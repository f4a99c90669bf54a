package realtime

import (
	"fmt"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

// QueuePatcher keeps cached order-queue lists in step with queue events and
// sorted by priority, then position.
type QueuePatcher struct {
	p patcher[types.QueueItem]
}

// NewQueuePatcher creates a QueuePatcher over store.
func NewQueuePatcher(store *cache.Store, opts Options) *QueuePatcher {
	return &QueuePatcher{p: patcher[types.QueueItem]{
		store: store,
		topic: types.TopicOrderQueue,
		order: SortQueue,
		opts:  opts.withDefaults(),
	}}
}

// Apply patches the cache for an order-queue event. It returns the number
// of entries changed.
func (qp *QueuePatcher) Apply(ev types.RealtimeEvent) int {
	switch ev.Name {
	case types.QueueAdded, types.QueueUpdated:
		el, err := qp.p.decode(ev)
		if err != nil {
			qp.p.fallback(err)
			return 0
		}
		if ev.Name == types.QueueAdded {
			return qp.p.create(el)
		}
		return qp.p.update(el)
	case types.QueueRemoved:
		id, err := qp.p.decodeID(ev)
		if err != nil {
			qp.p.fallback(err)
			return 0
		}
		return qp.p.remove(id)
	case types.QueueReordered:
		var payload types.ReorderPayload
		if len(ev.Payload) > 0 {
			if err := qp.p.opts.Marshaller.Unmarshal(ev.Payload, &payload); err != nil {
				qp.p.fallback(fmt.Errorf("%s: %w", ev.Name, err))
				return 0
			}
		}
		return qp.Reorder(payload)
	}
	return 0
}

// Reorder applies the position and priority of every item in
// payload.Updates and re-sorts each entry. When Updates is empty or does
// not cover every id in payload.Affected, the queue collection is
// invalidated instead.
func (qp *QueuePatcher) Reorder(payload types.ReorderPayload) int {
	if len(payload.Updates) == 0 {
		qp.p.fallback(fmt.Errorf("%s: no position updates", types.QueueReordered))
		return 0
	}
	for _, id := range payload.Affected {
		if _, ok := payload.Updates[id]; !ok {
			qp.p.fallback(fmt.Errorf("%s: updates cover %d of %d affected items",
				types.QueueReordered, len(payload.Updates), len(payload.Affected)))
			return 0
		}
	}

	// Entries filtered on priority may gain items they do not hold.
	regrouped := make(map[string]struct{})
	n := qp.p.store.Patch(qp.p.collection(), func(e cache.Entry) (cache.Entry, bool) {
		if e.Key.FiltersOn("priority") {
			regrouped[e.Key.String()] = struct{}{}
		}
		items := make([]cache.Element, 0, len(e.Items))
		changed := false
		for _, el := range e.Items {
			item, ok := el.(types.QueueItem)
			f, hit := payload.Updates[el.ElementID()]
			if !ok || !hit {
				items = append(items, el)
				continue
			}
			item.Position = f.Position
			if f.Priority != "" {
				item.Priority = f.Priority
			}
			changed = true
			if match, decidable := e.Key.Evaluate(item); decidable && !match {
				if e.Total > 0 {
					e.Total--
				}
				continue
			}
			items = append(items, item)
		}
		if !changed {
			return e, false
		}
		return e.WithItems(SortQueue(items)), true
	})
	qp.p.invalidateKeys(ReasonFallback, regrouped)
	qp.p.opts.Metrics.Patch(string(qp.p.topic), "reorder")
	return n
}
