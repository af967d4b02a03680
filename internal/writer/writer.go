package writer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"storyloom/internal/event"
	"storyloom/internal/llm"
)

// Package writer produces prose for one section per call. Failures are
// reported per section and never abort sibling writes.

// Error marks a failed write for one section.
type Error struct {
	SectionID string
	Err       error
}

func (e *Error) Error() string { return fmt.Sprintf("writer: section %s: %v", e.SectionID, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Request carries everything one section write needs.
type Request struct {
	SectionID        string
	SectionName      string
	Prompt           string
	WordCountBudget  int
	PriorSummary     string
	FollowingSummary string
	NeighborContent  string   // already-written adjacent prose
	RetrievedContext []string // similarity hits from earlier sections
	Revision         string   // critic feedback driving a rewrite
	PreviousDraft    string
}

// Writer invokes the generation backend once per section, optionally
// passing drafts through a critic loop before accepting them.
type Writer struct {
	gen       llm.Generator
	critic    *Critic
	maxTokens int
}

func New(gen llm.Generator, critic *Critic, maxTokens int) *Writer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Writer{gen: gen, critic: critic, maxTokens: maxTokens}
}

// Write produces prose for the section. With a critic configured, drafts
// scoring below the threshold are revised up to the iteration cap; a
// failing critic approves by default rather than blocking the write.
func (w *Writer) Write(ctx context.Context, req Request) (string, error) {
	ctx = llm.WithPhase(ctx, "writing")
	draft, err := w.generate(ctx, req)
	if err != nil {
		return "", &Error{SectionID: req.SectionID, Err: err}
	}
	if w.critic == nil {
		return draft, nil
	}
	for i := 0; i < w.critic.MaxIterations; i++ {
		crit, err := w.critic.Critique(ctx, draft)
		if err != nil {
			log.Printf("writer: critic failed for %s, accepting draft: %v", req.SectionID, err)
			return draft, nil
		}
		if crit.Approved {
			return draft, nil
		}
		event.SendDecision(ctx, fmt.Sprintf("revising %s (score %d)", req.SectionID, crit.Score), crit.Feedback)
		req.Revision = crit.Feedback
		req.PreviousDraft = draft
		draft, err = w.generate(ctx, req)
		if err != nil {
			return "", &Error{SectionID: req.SectionID, Err: err}
		}
	}
	return draft, nil
}

func (w *Writer) generate(ctx context.Context, req Request) (string, error) {
	out, err := w.gen.GenerateStream(ctx, systemPrompt(req), userPrompt(req), w.maxTokens, func(d llm.Delta) {
		if d.Reasoning != "" {
			event.SendThinking(ctx, "writing", d.Reasoning)
		}
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", llm.ErrEmptyOutput
	}
	return out, nil
}

func systemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are an expert creative writer producing one section of a longer structured document.\n")
	sb.WriteString("Match the tone of neighboring content, keep narrative continuity, and write the section body only.\n")
	if req.WordCountBudget > 0 {
		fmt.Fprintf(&sb, "Target length: about %d words.\n", req.WordCountBudget)
	}
	if len(req.RetrievedContext) > 0 {
		sb.WriteString("\n[RELATED PASSAGES]\n")
		for _, c := range req.RetrievedContext {
			sb.WriteString(c)
			sb.WriteString("\n---\n")
		}
	}
	return sb.String()
}

func userPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[SECTION]\n%s\n", req.SectionName)
	if req.PriorSummary != "" {
		fmt.Fprintf(&sb, "\n[PRECEDING]\n%s\n", req.PriorSummary)
	}
	if req.FollowingSummary != "" {
		fmt.Fprintf(&sb, "\n[FOLLOWING]\n%s\n", req.FollowingSummary)
	}
	if req.NeighborContent != "" {
		fmt.Fprintf(&sb, "\n[ADJACENT CONTENT]\n%s\n", clip(req.NeighborContent, 2000))
	}
	fmt.Fprintf(&sb, "\n[REQUEST]\n%s\n", req.Prompt)
	if req.Revision != "" {
		fmt.Fprintf(&sb, "\n[REVISION NOTES]\n%s\n\n[PREVIOUS DRAFT]\n%s\n", req.Revision, clip(req.PreviousDraft, 3000))
	}
	return sb.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
