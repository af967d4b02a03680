package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"storyloom/internal/structure"
)

// Section is the generated content of one structure item plus its derived
// word count.
type Section struct {
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
}

// Payload is the durable document: section id -> content, plus the
// aggregate word count. TotalWordCount is always recomputed by summation,
// never trusted from a stored value.
type Payload struct {
	Sections       map[string]Section `json:"sections"`
	TotalWordCount int                `json:"totalWordCount"`
}

func (p Payload) clone() Payload {
	out := Payload{Sections: make(map[string]Section, len(p.Sections)), TotalWordCount: p.TotalWordCount}
	for id, s := range p.Sections {
		out.Sections[id] = s
	}
	return out
}

// Store owns the payload and serializes all mutations. Updates to distinct
// section ids are commutative; updates to the same id are last-writer-wins.
type Store struct {
	mu      sync.Mutex
	payload Payload
}

func NewStore() *Store {
	return &Store{payload: Payload{Sections: make(map[string]Section)}}
}

// FromPlan seeds one empty entry per planned item.
func FromPlan(items []structure.Item) *Store {
	s := NewStore()
	for _, it := range items {
		s.payload.Sections[it.ID] = Section{}
	}
	return s
}

// CountWords is the word-count metric used everywhere: whitespace tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// UpdateContent replaces the section's content, recomputes its word count
// and the total, and returns a snapshot of the new payload. Idempotent:
// the same text twice yields an identical payload.
func (s *Store) UpdateContent(sectionID, text string) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payload.Sections[sectionID]; !ok {
		return Payload{}, fmt.Errorf("%w: %s", structure.ErrUnknownSection, sectionID)
	}
	s.payload.Sections[sectionID] = Section{Content: text, WordCount: CountWords(text)}
	s.recomputeTotalLocked()
	return s.payload.clone(), nil
}

// Ensure adds an empty entry for a newly created section if absent.
func (s *Store) Ensure(sectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payload.Sections[sectionID]; !ok {
		s.payload.Sections[sectionID] = Section{}
	}
}

// Prune drops entries for removed sections and recomputes the total.
func (s *Store) Prune(removedIDs []string) Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range removedIDs {
		delete(s.payload.Sections, id)
	}
	s.recomputeTotalLocked()
	return s.payload.clone()
}

func (s *Store) Get(sectionID string) (Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.payload.Sections[sectionID]
	return sec, ok
}

func (s *Store) Payload() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload.clone()
}

func (s *Store) TotalWordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload.TotalWordCount
}

// Snapshot serializes the payload. encoding/json writes map keys in sorted
// order, so equal payloads produce byte-equal snapshots.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.payload)
}

// Restore replaces the payload from a snapshot. The total is recomputed
// from the entries rather than trusted from the snapshot.
func (s *Store) Restore(data []byte) error {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("document: restore: %w", err)
	}
	if p.Sections == nil {
		p.Sections = make(map[string]Section)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
	s.recomputeTotalLocked()
	return nil
}

func (s *Store) recomputeTotalLocked() {
	total := 0
	for _, sec := range s.payload.Sections {
		total += sec.WordCount
	}
	s.payload.TotalWordCount = total
}
