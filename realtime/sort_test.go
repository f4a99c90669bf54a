package realtime

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/huykn/pos-sync/cache"
	"github.com/huykn/pos-sync/types"
)

var priorities = []types.Priority{types.PriorityLow, types.PriorityNormal, types.PriorityHigh, types.PriorityUrgent, "BOGUS"}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityRank(types.PriorityUrgent), PriorityRank(types.PriorityHigh))
	assert.Greater(t, PriorityRank(types.PriorityHigh), PriorityRank(types.PriorityNormal))
	assert.Greater(t, PriorityRank(types.PriorityNormal), PriorityRank(types.PriorityLow))
	assert.Equal(t, PriorityRank(types.PriorityNormal), PriorityRank("BOGUS"))
}

func TestSortQueueOrdersByRankThenPosition(t *testing.T) {
	items := elements(
		types.QueueItem{ID: "a", Priority: types.PriorityNormal, Position: 2},
		types.QueueItem{ID: "b", Priority: types.PriorityUrgent, Position: 9},
		types.QueueItem{ID: "c", Priority: types.PriorityNormal, Position: 1},
		types.QueueItem{ID: "d", Priority: types.PriorityLow, Position: 0},
		types.QueueItem{ID: "e", Priority: types.PriorityHigh, Position: 5},
	)
	sorted := SortQueue(items)
	assert.Equal(t, []string{"b", "e", "c", "a", "d"}, ids(cache.Entry{Items: sorted}))
	assert.Equal(t, "a", items[0].ElementID(), "input must not be reordered")
}

func TestSortQueueIsStable(t *testing.T) {
	items := elements(
		types.QueueItem{ID: "x", Priority: types.PriorityHigh, Position: 1},
		types.QueueItem{ID: "y", Priority: types.PriorityHigh, Position: 1},
	)
	assert.Equal(t, []string{"x", "y"}, ids(cache.Entry{Items: SortQueue(items)}))
}

func TestSortQueueProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		items := make([]cache.Element, n)
		for i := range items {
			items[i] = types.QueueItem{
				ID:       fmt.Sprintf("q%d", i),
				Priority: priorities[rng.Intn(len(priorities))],
				Position: rng.Intn(6),
			}
		}
		sorted := SortQueue(items)
		if !QueueSorted(sorted) {
			t.Fatalf("round %d: not sorted: %+v", round, sorted)
		}
		assert.Len(t, sorted, n)
	}
}

func TestQueueSorted(t *testing.T) {
	assert.True(t, QueueSorted(nil))
	assert.False(t, QueueSorted(elements(
		types.QueueItem{ID: "a", Priority: types.PriorityLow},
		types.QueueItem{ID: "b", Priority: types.PriorityHigh},
	)))
	assert.False(t, QueueSorted(elements(
		types.QueueItem{ID: "a", Priority: types.PriorityHigh, Position: 3},
		types.QueueItem{ID: "b", Priority: types.PriorityHigh, Position: 1},
	)))
}
