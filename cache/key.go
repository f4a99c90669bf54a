package cache

import (
	"sort"
	"strconv"
	"strings"
)

// FilterAll is the filter value that matches every element.
const FilterAll = "all"

// Key addresses one cached query: a logical collection plus the pagination
// and filter discriminators that distinguish it from other queries over the
// same collection.
type Key struct {
	Collection string
	// Page is 1-based. Zero means the query is not paginated.
	Page     int
	PageSize int
	Filters  map[string]string
}

// String returns the canonical form of k, used as the store index.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Collection)
	if k.Page > 0 {
		b.WriteString("|page=")
		b.WriteString(strconv.Itoa(k.Page))
		b.WriteString("|size=")
		b.WriteString(strconv.Itoa(k.PageSize))
	}
	names := make([]string, 0, len(k.Filters))
	for n := range k.Filters {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b.WriteByte('|')
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(k.Filters[n])
	}
	return b.String()
}

// Paginated reports whether k addresses one page of a larger result.
func (k Key) Paginated() bool { return k.Page > 0 }

// FirstPage reports whether new elements may be inserted into k's entry.
// Unpaginated queries count as a first page.
func (k Key) FirstPage() bool { return k.Page <= 1 }

// Filtered reports whether any filter of k narrows the collection.
func (k Key) Filtered() bool {
	for _, want := range k.Filters {
		if want != "" && want != FilterAll {
			return true
		}
	}
	return false
}

// FiltersOn reports whether k narrows the collection by attribute name.
func (k Key) FiltersOn(name string) bool {
	want, ok := k.Filters[name]
	return ok && want != "" && want != FilterAll
}

// Evaluate tests el against every filter of k. decidable is false when el
// lacks a field some filter needs; match is then meaningless.
func (k Key) Evaluate(el Element) (match, decidable bool) {
	match = true
	for name, want := range k.Filters {
		if want == "" || want == FilterAll {
			continue
		}
		got, ok := el.Attr(name)
		if !ok {
			return false, false
		}
		if got != want {
			match = false
		}
	}
	return match, true
}

// InCollection returns a predicate matching every key of the collection.
func InCollection(names ...string) func(Key) bool {
	return func(k Key) bool {
		for _, n := range names {
			if k.Collection == n {
				return true
			}
		}
		return false
	}
}

// Exact returns a predicate matching only k.
func Exact(k Key) func(Key) bool {
	id := k.String()
	return func(other Key) bool { return other.String() == id }
}

// All matches every key.
func All(Key) bool { return true }
