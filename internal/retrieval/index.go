package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder turns text into a vector. Implementations wrap a remote
// embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one ranked search hit.
type Result struct {
	ID        string
	SectionID string
	Text      string
	Score     float64
}

type entry struct {
	id        string
	sectionID string
	text      string
	words     map[string]struct{}
	vec       []float32
}

// Index is an in-memory similarity index over generated chunks, with an
// exact-word fallback merged into the semantic ranking. Embeddings are
// cached through an LRU so re-indexed text never re-embeds.
type Index struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]

	mu      sync.RWMutex
	entries []entry
}

func NewIndex(embedder Embedder) (*Index, error) {
	cache, err := lru.New[string, []float32](4096)
	if err != nil {
		return nil, err
	}
	return &Index{embedder: embedder, cache: cache}, nil
}

func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := ix.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	ix.cache.Add(text, vec)
	return vec, nil
}

// Add indexes one chunk under the given id.
func (ix *Index) Add(ctx context.Context, id, sectionID, text string) error {
	vec, err := ix.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("retrieval: embed %s: %w", id, err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range ix.entries {
		if ix.entries[i].id == id {
			ix.entries[i] = entry{id: id, sectionID: sectionID, text: text, words: wordSet(text), vec: vec}
			return nil
		}
	}
	ix.entries = append(ix.entries, entry{id: id, sectionID: sectionID, text: text, words: wordSet(text), vec: vec})
	return nil
}

// RemoveSections drops every chunk belonging to the given section ids.
func (ix *Index) RemoveSections(sectionIDs []string) {
	drop := make(map[string]struct{}, len(sectionIDs))
	for _, id := range sectionIDs {
		drop[id] = struct{}{}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	kept := ix.entries[:0]
	for _, e := range ix.entries {
		if _, gone := drop[e.sectionID]; !gone {
			kept = append(kept, e)
		}
	}
	ix.entries = kept
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search ranks chunks against the query. Semantic hits above threshold
// and exact-word hits are merged by id; the blended score weighs the
// semantic side, and ties keep the semantic ordering.
func (ix *Index) Search(ctx context.Context, query string, threshold float64, k int, sectionFilter []string) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	qvec, err := ix.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	qwords := wordSet(query)

	var filter map[string]struct{}
	if len(sectionFilter) > 0 {
		filter = make(map[string]struct{}, len(sectionFilter))
		for _, id := range sectionFilter {
			filter[id] = struct{}{}
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		Result
		semRank int
	}
	byID := make(map[string]*scored)
	order := make([]*scored, 0, len(ix.entries))

	semRank := 0
	for _, e := range ix.entries {
		if filter != nil {
			if _, ok := filter[e.sectionID]; !ok {
				continue
			}
		}
		sem := cosine(qvec, e.vec)
		kw := wordOverlap(qwords, e.words)
		if sem < threshold && kw == 0 {
			continue
		}
		blended := 0.7*sem + 0.3*kw
		s := &scored{Result: Result{ID: e.id, SectionID: e.sectionID, Text: e.text, Score: blended}}
		if sem >= threshold {
			s.semRank = semRank
			semRank++
		} else {
			s.semRank = 1 << 30 // keyword-only hits sort after semantic ties
		}
		if prev, dup := byID[e.id]; dup {
			if s.Score > prev.Score {
				*prev = *s
			}
			continue
		}
		byID[e.id] = s
		order = append(order, s)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Score != order[j].Score {
			return order[i].Score > order[j].Score
		}
		return order[i].semRank < order[j].semRank
	})
	if len(order) > k {
		order = order[:k]
	}
	out := make([]Result, 0, len(order))
	for _, s := range order {
		out = append(out, s.Result)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

// wordOverlap is the fraction of query words present verbatim in the text.
func wordOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for w := range query {
		if _, ok := text[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
