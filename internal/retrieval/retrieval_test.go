package retrieval

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"storyloom/internal/llm"
)

// hashEmbedder is a deterministic bag-of-words embedder for tests: each
// word bumps one bucket, so shared vocabulary means higher cosine.
type hashEmbedder struct{ calls int }

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h.calls++
	vec := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[f.Sum32()%64]++
	}
	return vec, nil
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "tok"
	}
	return strings.Join(parts, " ")
}

func TestChunkParagraphFirst(t *testing.T) {
	text := words(100) + "\n\n" + words(100) + "\n\n" + words(100)
	chunks := ChunkText("s1", text, Options{MaxTokensPerChunk: 220})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.SectionID != "s1" {
			t.Fatalf("chunk escaped its section: %+v", c)
		}
	}
}

func TestChunkSentenceFallbackForOversizedParagraph(t *testing.T) {
	// One paragraph of 2000 estimated tokens, sentences of 50 words.
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(words(49) + " end.")
		sb.WriteString(" ")
	}
	chunks := ChunkText("s1", strings.TrimSpace(sb.String()), Options{
		MaxTokensPerChunk: 800,
		OverlapTokens:     40,
		RespectBoundaries: true,
	})
	if len(chunks) < 2 {
		t.Fatalf("oversized paragraph not split: %d chunks", len(chunks))
	}
	for _, c := range chunks {
		// Overlap inflates a chunk beyond the ceiling by at most
		// OverlapTokens words (the estimate is a heuristic ceiling).
		if c.TokenCount > 800+40 {
			t.Fatalf("chunk %d exceeds ceiling+overlap: %d tokens", c.Index, c.TokenCount)
		}
	}
	// Each chunk repeats the tail of its predecessor, bounded by OverlapTokens.
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		tail := strings.Join(prevWords[len(prevWords)-40:], " ")
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Fatalf("chunk %d does not start with predecessor tail", i)
		}
	}
}

func TestChunkNeverCrossesSectionBoundary(t *testing.T) {
	sections := []SectionText{
		{SectionID: "a", Text: strings.TrimSpace(strings.Repeat(words(49)+" end. ", 40))},
		{SectionID: "b", Text: words(300)},
	}
	chunks := ChunkSections(sections, Options{MaxTokensPerChunk: 800, OverlapTokens: 40, RespectBoundaries: true})
	for _, c := range chunks {
		if c.SectionID != "a" && c.SectionID != "b" {
			t.Fatalf("unknown section id %q", c.SectionID)
		}
	}
	// The first section's final chunk must not absorb section b's text.
	total := map[string]int{}
	for _, c := range chunks {
		total[c.SectionID]++
	}
	if total["a"] < 2 || total["b"] != 1 {
		t.Fatalf("unexpected distribution: %v", total)
	}
}

func TestChunkMinTokensFoldsRunt(t *testing.T) {
	text := words(100) + "\n\n" + words(5)
	chunks := ChunkText("s1", text, Options{MaxTokensPerChunk: 100, MinTokensPerChunk: 20})
	if len(chunks) != 1 {
		t.Fatalf("runt chunk not folded: %d chunks", len(chunks))
	}
}

func TestChunkEmptyText(t *testing.T) {
	if got := ChunkText("s1", "   \n\n  ", Options{}); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
}

func TestSearchRanksSharedVocabulary(t *testing.T) {
	emb := &hashEmbedder{}
	ix, err := NewIndex(emb)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	ctx := context.Background()
	add := func(id, section, text string) {
		t.Helper()
		if err := ix.Add(ctx, id, section, text); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	add("c1", "s1", "the detective walked through the rainy harbor at midnight")
	add("c2", "s2", "a recipe for sourdough bread with rye flour")
	add("c3", "s3", "the detective questioned the harbor master about the ship")

	res, err := ix.Search(ctx, "detective at the harbor", 0.1, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	for _, r := range res {
		if r.SectionID == "s2" {
			t.Fatalf("bread chunk outranked detective chunks: %+v", res)
		}
	}
}

func TestSearchSectionFilter(t *testing.T) {
	ix, _ := NewIndex(&hashEmbedder{})
	ctx := context.Background()
	_ = ix.Add(ctx, "c1", "s1", "storm over the mountain pass")
	_ = ix.Add(ctx, "c2", "s2", "storm over the coastal village")
	res, err := ix.Search(ctx, "storm", 0.0, 10, []string{"s2"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].SectionID != "s2" {
		t.Fatalf("filter ignored: %+v", res)
	}
}

func TestEmbeddingCache(t *testing.T) {
	emb := &hashEmbedder{}
	ix, _ := NewIndex(emb)
	ctx := context.Background()
	_ = ix.Add(ctx, "c1", "s1", "same text")
	_ = ix.Add(ctx, "c2", "s1", "same text")
	if emb.calls != 1 {
		t.Fatalf("cache miss on identical text: %d calls", emb.calls)
	}
}

func TestRemoveSections(t *testing.T) {
	ix, _ := NewIndex(&hashEmbedder{})
	ctx := context.Background()
	_ = ix.Add(ctx, "c1", "s1", "alpha")
	_ = ix.Add(ctx, "c2", "s2", "beta")
	ix.RemoveSections([]string{"s1"})
	if ix.Len() != 1 {
		t.Fatalf("expected 1 entry after removal, got %d", ix.Len())
	}
}

func TestTokenEstimateMatchesChunkerAssumption(t *testing.T) {
	if got := llm.CountTokens(words(2000)); got != 2000 {
		t.Fatalf("estimator drifted: %d", got)
	}
}
