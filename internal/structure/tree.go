package structure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Package structure holds the in-memory section tree: acts, sequences,
// scenes, chapters. Nodes are flat Items linked by ParentID; the Tree
// keeps sibling order normalized and levels consistent with depth.

var (
	ErrUnknownParent  = errors.New("structure: unknown parent")
	ErrUnknownSection = errors.New("structure: unknown section")
	ErrCycle          = errors.New("structure: cycle detected")
	ErrRootRequired   = errors.New("structure: at least one root section must remain")
	ErrDuplicateID    = errors.New("structure: duplicate section id")
)

// Item is one node of the section tree. ParentID == "" means the item is
// a root sibling. Level is 1-based depth and must equal parent.Level+1.
type Item struct {
	ID               string `json:"id"`
	Level            int    `json:"level"`
	Order            int    `json:"order"`
	ParentID         string `json:"parentId,omitempty"`
	Name             string `json:"name"`
	Title            string `json:"title,omitempty"`
	Summary          string `json:"summary,omitempty"`
	WordCountBudget  int    `json:"wordCountBudget,omitempty"`
	AssignedWorkerID string `json:"assignedWorkerId,omitempty"`
}

// Tree owns a set of Items. Not safe for concurrent use; callers
// serialize access (the engine holds the only reference).
type Tree struct {
	items map[string]*Item
}

func NewTree() *Tree {
	return &Tree{items: make(map[string]*Item)}
}

// FromItems builds a tree from a plan-ordered item list. Parents must
// appear before their children.
func FromItems(items []Item) (*Tree, error) {
	t := NewTree()
	for _, it := range items {
		item := it
		if err := t.Insert(item, item.ParentID, -1); err != nil {
			return nil, fmt.Errorf("item %q: %w", item.ID, err)
		}
	}
	return t, nil
}

func (t *Tree) Len() int { return len(t.items) }

func (t *Tree) Get(id string) (Item, bool) {
	it, ok := t.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Insert adds item under parentID at the given sibling position.
// position < 0 appends. The item's Level is derived from the parent,
// Order is renumbered across the sibling group.
func (t *Tree) Insert(item Item, parentID string, position int) error {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownSection)
	}
	if _, exists := t.items[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	parentID = strings.TrimSpace(parentID)
	level := 1
	if parentID != "" {
		parent, ok := t.items[parentID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
		}
		level = parent.Level + 1
	}
	item.ID = id
	item.ParentID = parentID
	item.Level = level

	siblings := t.childPtrs(parentID)
	if position < 0 || position > len(siblings) {
		position = len(siblings)
	}
	t.items[id] = &item
	siblings = append(siblings[:position], append([]*Item{&item}, siblings[position:]...)...)
	renumber(siblings)
	return nil
}

// Remove deletes id and all descendants, returning every removed id.
// Removing the last root sibling is rejected: the document always keeps
// at least one top-level container.
func (t *Tree) Remove(id string) ([]string, error) {
	it, ok := t.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, id)
	}
	if it.ParentID == "" && len(t.childPtrs("")) == 1 {
		return nil, ErrRootRequired
	}
	removed := t.collectSubtree(id)
	for _, rid := range removed {
		delete(t.items, rid)
	}
	renumber(t.childPtrs(it.ParentID))
	return removed, nil
}

// Reorder moves id to newOrder among its siblings and renumbers the group.
func (t *Tree) Reorder(id string, newOrder int) error {
	it, ok := t.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSection, id)
	}
	siblings := t.childPtrs(it.ParentID)
	idx := -1
	for i, s := range siblings {
		if s.ID == id {
			idx = i
			break
		}
	}
	siblings = append(siblings[:idx], siblings[idx+1:]...)
	if newOrder < 0 {
		newOrder = 0
	}
	if newOrder > len(siblings) {
		newOrder = len(siblings)
	}
	siblings = append(siblings[:newOrder], append([]*Item{it}, siblings[newOrder:]...)...)
	renumber(siblings)
	return nil
}

// ChildrenOf returns the direct children of id sorted by order.
// id == "" returns the root sibling set.
func (t *Tree) ChildrenOf(id string) []Item {
	ptrs := t.childPtrs(id)
	out := make([]Item, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out
}

// AncestorsOf returns the chain from the immediate parent up to the root.
func (t *Tree) AncestorsOf(id string) ([]Item, error) {
	it, ok := t.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, id)
	}
	var out []Item
	seen := map[string]bool{id: true}
	for it.ParentID != "" {
		parent, ok := t.items[it.ParentID]
		if !ok {
			break
		}
		if seen[parent.ID] {
			return nil, fmt.Errorf("%w: via %s", ErrCycle, parent.ID)
		}
		seen[parent.ID] = true
		out = append(out, *parent)
		it = parent
	}
	return out, nil
}

// AggregateWordBudget sums the node's own budget with every descendant's.
func (t *Tree) AggregateWordBudget(id string) (int, error) {
	if _, ok := t.items[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSection, id)
	}
	total := 0
	for _, sid := range t.collectSubtree(id) {
		total += t.items[sid].WordCountBudget
	}
	return total, nil
}

// Items returns every item in depth-first sibling order, suitable for
// serialization: parents always precede children.
func (t *Tree) Items() []Item {
	var out []Item
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, p := range t.childPtrs(parentID) {
			out = append(out, *p)
			walk(p.ID)
		}
	}
	walk("")
	return out
}

// Update applies fn to the stored item. Structural fields (ID, ParentID,
// Level, Order) set by fn are ignored.
func (t *Tree) Update(id string, fn func(*Item)) error {
	it, ok := t.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSection, id)
	}
	keep := *it
	fn(it)
	it.ID, it.ParentID, it.Level, it.Order = keep.ID, keep.ParentID, keep.Level, keep.Order
	return nil
}

func (t *Tree) childPtrs(parentID string) []*Item {
	var out []*Item
	for _, it := range t.items {
		if it.ParentID == parentID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// collectSubtree returns id plus all descendant ids, parents first.
func (t *Tree) collectSubtree(id string) []string {
	out := []string{id}
	for _, child := range t.childPtrs(id) {
		out = append(out, t.collectSubtree(child.ID)...)
	}
	return out
}

func renumber(siblings []*Item) {
	for i, s := range siblings {
		s.Order = i
	}
}
