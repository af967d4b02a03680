package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"storyloom/internal/llm"
)

func TestWriteBuildsPromptFromContext(t *testing.T) {
	var gotSystem, gotUser string
	gen := llm.NewFake(0)
	gen.TextFn = func(_ context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return "prose", nil
	}
	w := New(gen, nil, 0)
	out, err := w.Write(context.Background(), Request{
		SectionID:        "sc1",
		SectionName:      "Opening",
		Prompt:           "introduce the detective",
		WordCountBudget:  800,
		PriorSummary:     "nothing yet",
		FollowingSummary: "the first clue appears",
		NeighborContent:  "It was raining.",
		RetrievedContext: []string{"the harbor at midnight"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if out != "prose" {
		t.Fatalf("out = %q", out)
	}
	for _, want := range []string{"800 words", "[RELATED PASSAGES]", "the harbor at midnight"} {
		if !strings.Contains(gotSystem, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, gotSystem)
		}
	}
	for _, want := range []string{"Opening", "[PRECEDING]", "[FOLLOWING]", "It was raining.", "introduce the detective"} {
		if !strings.Contains(gotUser, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, gotUser)
		}
	}
}

func TestWriteEmptyOutputIsError(t *testing.T) {
	gen := llm.NewFake(0)
	gen.TextFn = func(context.Context, string, string) (string, error) { return "   ", nil }
	w := New(gen, nil, 0)
	_, err := w.Write(context.Background(), Request{SectionID: "sc1"})
	var werr *Error
	if !errors.As(err, &werr) || werr.SectionID != "sc1" {
		t.Fatalf("expected writer.Error for sc1, got %v", err)
	}
	if !errors.Is(err, llm.ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func criticGen(scores ...int) *llm.Fake {
	gen := llm.NewFake(0)
	i := 0
	gen.JSONFn = func(context.Context, string, string) (json.RawMessage, error) {
		s := scores[i]
		if i < len(scores)-1 {
			i++
		}
		return json.RawMessage(fmt.Sprintf(`{"score":%d,"feedback":"tighten the pacing","suggestions":[]}`, s)), nil
	}
	return gen
}

func TestCriticApprovesAtThreshold(t *testing.T) {
	c := NewCritic(criticGen(7))
	crit, err := c.Critique(context.Background(), "some draft")
	if err != nil {
		t.Fatalf("critique: %v", err)
	}
	if !crit.Approved {
		t.Fatalf("score 7 should approve: %+v", crit)
	}
}

func TestCriticRejectsOutOfRangeScore(t *testing.T) {
	c := NewCritic(criticGen(0))
	if _, err := c.Critique(context.Background(), "draft"); !errors.Is(err, llm.ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestWriterRevisesUntilApproved(t *testing.T) {
	drafts := 0
	gen := llm.NewFake(0)
	gen.TextFn = func(_ context.Context, _, user string) (string, error) {
		drafts++
		if drafts > 1 && !strings.Contains(user, "[REVISION NOTES]") {
			t.Fatal("revision pass missing critic feedback")
		}
		return fmt.Sprintf("draft %d", drafts), nil
	}
	// First critique fails, second approves.
	c := NewCritic(criticGen(4, 9))
	w := New(gen, c, 0)
	out, err := w.Write(context.Background(), Request{SectionID: "sc1", Prompt: "x"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if drafts != 2 || out != "draft 2" {
		t.Fatalf("drafts=%d out=%q", drafts, out)
	}
}

func TestWriterRevisionCap(t *testing.T) {
	drafts := 0
	gen := llm.NewFake(0)
	gen.TextFn = func(context.Context, string, string) (string, error) {
		drafts++
		return fmt.Sprintf("draft %d", drafts), nil
	}
	c := NewCritic(criticGen(3)) // never approves
	w := New(gen, c, 0)
	out, err := w.Write(context.Background(), Request{SectionID: "sc1", Prompt: "x"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	// Initial draft + MaxIterations revisions, then the last draft wins.
	if drafts != 1+c.MaxIterations {
		t.Fatalf("drafts = %d, want %d", drafts, 1+c.MaxIterations)
	}
	if out != fmt.Sprintf("draft %d", drafts) {
		t.Fatalf("out = %q", out)
	}
}

func TestWriterCriticFailureAcceptsDraft(t *testing.T) {
	gen := llm.NewFake(0)
	gen.TextFn = func(context.Context, string, string) (string, error) { return "the draft", nil }
	criticBackend := llm.NewFake(0)
	criticBackend.JSONFn = func(context.Context, string, string) (json.RawMessage, error) {
		return nil, errors.New("critic backend down")
	}
	w := New(gen, NewCritic(criticBackend), 0)
	out, err := w.Write(context.Background(), Request{SectionID: "sc1", Prompt: "x"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if out != "the draft" {
		t.Fatalf("out = %q", out)
	}
}
