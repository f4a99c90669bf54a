package cache

import "time"

// Entry is an immutable snapshot of one cached query result. Every change
// produces a new Entry; a stored Entry is never mutated in place.
type Entry struct {
	Key       Key
	Items     []Element
	Total     int
	Stale     bool
	UpdatedAt time.Time
	Version   uint64
}

// IndexOf returns the position of the element with id, or -1.
func (e Entry) IndexOf(id string) int {
	for i, el := range e.Items {
		if el.ElementID() == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the entry holds the element with id.
func (e Entry) Contains(id string) bool { return e.IndexOf(id) >= 0 }

// IDs returns the identity set of the entry.
func (e Entry) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(e.Items))
	for _, el := range e.Items {
		ids[el.ElementID()] = struct{}{}
	}
	return ids
}

// WithItems returns a copy of e holding items.
func (e Entry) WithItems(items []Element) Entry {
	e.Items = items
	return e
}

// InsertHead returns a copy of e with el first and Total incremented.
func (e Entry) InsertHead(el Element) Entry {
	items := make([]Element, 0, len(e.Items)+1)
	items = append(items, el)
	items = append(items, e.Items...)
	e.Items = items
	e.Total++
	return e
}

// Replace returns a copy of e with the element sharing el's id replaced at
// the same index. ok is false when e does not hold it.
func (e Entry) Replace(el Element) (Entry, bool) {
	i := e.IndexOf(el.ElementID())
	if i < 0 {
		return e, false
	}
	items := make([]Element, len(e.Items))
	copy(items, e.Items)
	items[i] = el
	e.Items = items
	return e, true
}

// Remove returns a copy of e without the element with id and with Total
// decremented. ok is false when e does not hold it.
func (e Entry) Remove(id string) (Entry, bool) {
	i := e.IndexOf(id)
	if i < 0 {
		return e, false
	}
	items := make([]Element, 0, len(e.Items)-1)
	items = append(items, e.Items[:i]...)
	items = append(items, e.Items[i+1:]...)
	e.Items = items
	if e.Total > 0 {
		e.Total--
	}
	return e, true
}
