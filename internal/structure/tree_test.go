package structure

import (
	"errors"
	"testing"
)

func buildTree(t *testing.T) *Tree {
	t.Helper()
	tr := NewTree()
	items := []struct {
		id, parent string
		budget     int
	}{
		{"act1", "", 1000},
		{"act2", "", 1000},
		{"scene1", "act1", 400},
		{"scene2", "act1", 600},
		{"beat1", "scene1", 150},
	}
	for _, it := range items {
		if err := tr.Insert(Item{ID: it.id, Name: it.id, WordCountBudget: it.budget}, it.parent, -1); err != nil {
			t.Fatalf("insert %s: %v", it.id, err)
		}
	}
	return tr
}

func TestInsertDerivesLevelAndOrder(t *testing.T) {
	tr := buildTree(t)
	act1, _ := tr.Get("act1")
	if act1.Level != 1 || act1.Order != 0 {
		t.Fatalf("act1 level/order = %d/%d", act1.Level, act1.Order)
	}
	beat, _ := tr.Get("beat1")
	if beat.Level != 3 {
		t.Fatalf("beat1 level = %d, want 3", beat.Level)
	}
	scenes := tr.ChildrenOf("act1")
	if len(scenes) != 2 || scenes[0].ID != "scene1" || scenes[1].Order != 1 {
		t.Fatalf("unexpected children: %+v", scenes)
	}
}

func TestInsertUnknownParent(t *testing.T) {
	tr := NewTree()
	err := tr.Insert(Item{ID: "x", Name: "x"}, "missing", -1)
	if !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("expected ErrUnknownParent, got %v", err)
	}
}

func TestInsertDuplicateID(t *testing.T) {
	tr := buildTree(t)
	err := tr.Insert(Item{ID: "act1"}, "", -1)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestInsertAtPosition(t *testing.T) {
	tr := buildTree(t)
	if err := tr.Insert(Item{ID: "scene0", Name: "scene0"}, "act1", 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got := tr.ChildrenOf("act1")
	want := []string{"scene0", "scene1", "scene2"}
	for i, w := range want {
		if got[i].ID != w || got[i].Order != i {
			t.Fatalf("children[%d] = %s/%d, want %s/%d", i, got[i].ID, got[i].Order, w, i)
		}
	}
}

func TestRemoveCascades(t *testing.T) {
	tr := buildTree(t)
	removed, err := tr.Remove("act1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(removed) != 4 {
		t.Fatalf("removed %d ids, want 4 (act1+scene1+scene2+beat1): %v", len(removed), removed)
	}
	if _, ok := tr.Get("beat1"); ok {
		t.Fatal("beat1 survived cascade")
	}
	// Sibling renumbered after removal.
	roots := tr.ChildrenOf("")
	if len(roots) != 1 || roots[0].ID != "act2" || roots[0].Order != 0 {
		t.Fatalf("roots after removal: %+v", roots)
	}
}

func TestRemoveLastRootRejected(t *testing.T) {
	tr := NewTree()
	if err := tr.Insert(Item{ID: "root", Name: "root"}, "", -1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tr.Remove("root"); !errors.Is(err, ErrRootRequired) {
		t.Fatalf("expected ErrRootRequired, got %v", err)
	}
}

func TestRemoveUnknown(t *testing.T) {
	tr := buildTree(t)
	if _, err := tr.Remove("nope"); !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
}

func TestReorder(t *testing.T) {
	tr := buildTree(t)
	if err := tr.Reorder("scene2", 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	got := tr.ChildrenOf("act1")
	if got[0].ID != "scene2" || got[1].ID != "scene1" {
		t.Fatalf("after reorder: %s, %s", got[0].ID, got[1].ID)
	}
	for i, c := range got {
		if c.Order != i {
			t.Fatalf("order not contiguous: %+v", got)
		}
	}
}

func TestAncestors(t *testing.T) {
	tr := buildTree(t)
	anc, err := tr.AncestorsOf("beat1")
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(anc) != 2 || anc[0].ID != "scene1" || anc[1].ID != "act1" {
		t.Fatalf("unexpected ancestors: %+v", anc)
	}
}

func TestAggregateWordBudget(t *testing.T) {
	tr := buildTree(t)
	got, err := tr.AggregateWordBudget("act1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if want := 1000 + 400 + 600 + 150; got != want {
		t.Fatalf("aggregate = %d, want %d", got, want)
	}
}

func TestItemsParentsFirst(t *testing.T) {
	tr := buildTree(t)
	items := tr.Items()
	pos := map[string]int{}
	for i, it := range items {
		pos[it.ID] = i
	}
	for _, it := range items {
		if it.ParentID != "" && pos[it.ParentID] > pos[it.ID] {
			t.Fatalf("child %s precedes parent %s", it.ID, it.ParentID)
		}
	}
}

func TestFromItemsRoundTrip(t *testing.T) {
	tr := buildTree(t)
	rebuilt, err := FromItems(tr.Items())
	if err != nil {
		t.Fatalf("from items: %v", err)
	}
	if rebuilt.Len() != tr.Len() {
		t.Fatalf("len mismatch: %d vs %d", rebuilt.Len(), tr.Len())
	}
}

func TestUpdateKeepsStructuralFields(t *testing.T) {
	tr := buildTree(t)
	if err := tr.Update("scene1", func(it *Item) {
		it.Title = "Opening"
		it.ParentID = "act2" // must be ignored
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := tr.Get("scene1")
	if got.Title != "Opening" || got.ParentID != "act1" {
		t.Fatalf("update leaked structural change: %+v", got)
	}
}
