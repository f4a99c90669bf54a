package realtime

import (
	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

// ProductPatcher keeps cached product lists in step with product events.
type ProductPatcher struct {
	p patcher[types.Product]
}

// NewProductPatcher creates a ProductPatcher over store.
func NewProductPatcher(store *cache.Store, opts Options) *ProductPatcher {
	return &ProductPatcher{p: patcher[types.Product]{
		store: store,
		topic: types.TopicProduct,
		opts:  opts.withDefaults(),
	}}
}

// Apply patches the cache for a product:created, product:updated or
// product:deleted event. It returns the number of entries changed.
func (pp *ProductPatcher) Apply(ev types.RealtimeEvent) int {
	switch ev.Name {
	case types.ProductCreated, types.ProductUpdated:
		el, err := pp.p.decode(ev)
		if err != nil {
			pp.p.fallback(err)
			return 0
		}
		if ev.Name == types.ProductCreated {
			return pp.p.create(el)
		}
		return pp.p.update(el)
	case types.ProductDeleted:
		id, err := pp.p.decodeID(ev)
		if err != nil {
			pp.p.fallback(err)
			return 0
		}
		return pp.p.remove(id)
	}
	return 0
}
