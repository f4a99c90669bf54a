package cache

import (
	"testing"

	"github.com/huykn/pos-sync/types"
)

func products(ids ...string) []Element {
	out := make([]Element, len(ids))
	for i, id := range ids {
		out[i] = types.Product{ID: id, Name: "n-" + id}
	}
	return out
}

func TestEntryInsertHead(t *testing.T) {
	e := Entry{Items: products("a", "b"), Total: 2}
	next := e.InsertHead(types.Product{ID: "c"})

	if got := next.Items[0].ElementID(); got != "c" {
		t.Fatalf("expected c first, got %s", got)
	}
	if next.Total != 3 || len(next.Items) != 3 {
		t.Fatalf("unexpected entry %+v", next)
	}
	if len(e.Items) != 2 || e.Total != 2 {
		t.Fatal("original entry must not change")
	}
}

func TestEntryReplaceKeepsIndex(t *testing.T) {
	e := Entry{Items: products("a", "b", "c"), Total: 3}
	next, ok := e.Replace(types.Product{ID: "b", Name: "renamed"})
	if !ok {
		t.Fatal("expected replace to succeed")
	}
	if next.IndexOf("b") != 1 || next.Items[1].(types.Product).Name != "renamed" {
		t.Fatalf("unexpected items %+v", next.Items)
	}
	if e.Items[1].(types.Product).Name != "n-b" {
		t.Fatal("original entry must not change")
	}
	if _, ok := e.Replace(types.Product{ID: "z"}); ok {
		t.Fatal("replace of unknown id should report false")
	}
}

func TestEntryRemove(t *testing.T) {
	e := Entry{Items: products("a", "b", "c"), Total: 40}
	next, ok := e.Remove("b")
	if !ok || next.Contains("b") || next.Total != 39 || len(next.Items) != 2 {
		t.Fatalf("unexpected entry %+v", next)
	}
	if !e.Contains("b") {
		t.Fatal("original entry must not change")
	}

	empty := Entry{Items: products("a")}
	next, _ = empty.Remove("a")
	if next.Total != 0 {
		t.Fatalf("total must not go negative, got %d", next.Total)
	}
}

func TestEntryIDs(t *testing.T) {
	ids := Entry{Items: products("a", "b")}.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	if _, ok := ids["a"]; !ok {
		t.Fatal("missing a")
	}
}
