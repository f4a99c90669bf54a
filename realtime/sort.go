package realtime

import (
	"sort"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

// PriorityRank returns the sort weight of a queue priority; higher is
// served first.
func PriorityRank(p types.Priority) int { return p.Rank() }

// SortQueue returns a copy of items ordered by priority rank descending,
// then position ascending. The sort is stable. Elements that are not queue
// items keep their relative order after all queue items.
func SortQueue(items []cache.Element) []cache.Element {
	out := make([]cache.Element, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].(types.QueueItem)
		b, bok := out[j].(types.QueueItem)
		switch {
		case !aok || !bok:
			return aok && !bok
		case PriorityRank(a.Priority) != PriorityRank(b.Priority):
			return PriorityRank(a.Priority) > PriorityRank(b.Priority)
		default:
			return a.Position < b.Position
		}
	})
	return out
}

// QueueSorted reports whether items already satisfy the SortQueue order.
func QueueSorted(items []cache.Element) bool {
	for i := 1; i < len(items); i++ {
		a, aok := items[i-1].(types.QueueItem)
		b, bok := items[i].(types.QueueItem)
		if !aok || !bok {
			if !aok && bok {
				return false
			}
			continue
		}
		ra, rb := PriorityRank(a.Priority), PriorityRank(b.Priority)
		if ra < rb || (ra == rb && a.Position > b.Position) {
			return false
		}
	}
	return true
}
