package retrieval

import (
	"strings"

	"storyloom/internal/llm"
)

// Package retrieval builds generation context from previously written
// prose: chunking, embedding, and similarity search. Token counts are
// heuristic estimates, treated as a ceiling, not an exact bound.

// Options controls chunking.
type Options struct {
	MaxTokensPerChunk int
	MinTokensPerChunk int
	OverlapTokens     int
	// RespectBoundaries keeps every chunk inside a single structural
	// section; ChunkSections never merges text across sections when set.
	RespectBoundaries bool
}

func (o Options) normalized() Options {
	if o.MaxTokensPerChunk <= 0 {
		o.MaxTokensPerChunk = 512
	}
	if o.MinTokensPerChunk < 0 {
		o.MinTokensPerChunk = 0
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.MaxTokensPerChunk {
		o.OverlapTokens = o.MaxTokensPerChunk / 4
	}
	return o
}

// Chunk is one retrievable span of a section.
type Chunk struct {
	SectionID  string
	Index      int
	Text       string
	TokenCount int
}

// SectionText pairs a structural section id with its prose.
type SectionText struct {
	SectionID string
	Text      string
}

// ChunkSections chunks each section. With RespectBoundaries set each
// section is chunked independently, so no chunk ever crosses a structural
// boundary; otherwise the sections are joined and chunked as one text.
func ChunkSections(sections []SectionText, opts Options) []Chunk {
	opts = opts.normalized()
	if !opts.RespectBoundaries {
		var sb strings.Builder
		first := ""
		for i, s := range sections {
			if i == 0 {
				first = s.SectionID
			} else {
				sb.WriteString("\n\n")
			}
			sb.WriteString(s.Text)
		}
		return chunkText(first, sb.String(), opts)
	}
	var out []Chunk
	for _, s := range sections {
		out = append(out, chunkText(s.SectionID, s.Text, opts)...)
	}
	return out
}

// ChunkText splits one section's prose on paragraph boundaries first,
// falling back to sentence boundaries only when a single paragraph
// exceeds the token ceiling. Each chunk starts with the trailing words of
// the previous one, approximating OverlapTokens of shared context.
func ChunkText(sectionID, text string, opts Options) []Chunk {
	return chunkText(sectionID, text, opts.normalized())
}

func chunkText(sectionID, text string, opts Options) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for _, para := range splitParagraphs(text) {
		if llm.CountTokens(para) <= opts.MaxTokensPerChunk {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para)...)
	}

	var chunks []Chunk
	var cur []string
	curTokens := 0
	overlap := ""

	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := strings.Join(cur, "\n\n")
		chunkText := body
		if overlap != "" {
			chunkText = overlap + "\n\n" + body
		}
		chunks = append(chunks, Chunk{
			SectionID:  sectionID,
			Index:      len(chunks),
			Text:       chunkText,
			TokenCount: llm.CountTokens(chunkText),
		})
		overlap = trailingWords(body, opts.OverlapTokens)
		cur = cur[:0]
		curTokens = 0
	}

	for _, piece := range pieces {
		pt := llm.CountTokens(piece)
		if curTokens > 0 && curTokens+pt > opts.MaxTokensPerChunk {
			flush()
		}
		cur = append(cur, piece)
		curTokens += pt
		if curTokens >= opts.MaxTokensPerChunk {
			flush()
		}
	}
	flush()

	// A trailing runt below the minimum folds into its predecessor.
	if n := len(chunks); n > 1 && opts.MinTokensPerChunk > 0 && chunks[n-1].TokenCount < opts.MinTokensPerChunk {
		prev := &chunks[n-2]
		prev.Text = prev.Text + "\n\n" + chunks[n-1].Text
		prev.TokenCount = llm.CountTokens(prev.Text)
		chunks = chunks[:n-1]
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks a paragraph after '.', '!' or '?' followed by
// whitespace. Good enough for chunking; never used for display.
func splitSentences(para string) []string {
	var out []string
	start := 0
	for i := 0; i < len(para)-1; i++ {
		c := para[i]
		if (c == '.' || c == '!' || c == '?') && (para[i+1] == ' ' || para[i+1] == '\n' || para[i+1] == '\t') {
			s := strings.TrimSpace(para[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// trailingWords returns up to n trailing whitespace-delimited words.
func trailingWords(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
