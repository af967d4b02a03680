package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Fake is a deterministic Generator for offline runs and tests. TextFn and
// JSONFn override the canned outputs per call when set.
type Fake struct {
	tokenCap int
	TextFn   func(ctx context.Context, system, user string) (string, error)
	JSONFn   func(ctx context.Context, system, user string) (json.RawMessage, error)
}

func NewFake(tokenCap int) *Fake {
	if tokenCap <= 0 {
		tokenCap = 4096
	}
	return &Fake{tokenCap: tokenCap}
}

func (f *Fake) Name() string                { return "FakeLLM" }
func (f *Fake) Close() error                { return nil }
func (f *Fake) CountTokens(text string) int { return CountTokens(text) }
func (f *Fake) TokenCapacity() int          { return f.tokenCap }

func (f *Fake) GenerateText(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if f.TextFn != nil {
		return f.TextFn(ctx, system, user)
	}
	return fmt.Sprintf("fake %s output", PhaseFrom(ctx)), nil
}

func (f *Fake) GenerateJSON(ctx context.Context, system, user string, maxTokens int) (json.RawMessage, error) {
	if f.JSONFn != nil {
		return f.JSONFn(ctx, system, user)
	}
	return json.RawMessage(`{}`), nil
}

func (f *Fake) GenerateStream(ctx context.Context, system, user string, maxTokens int, onDelta func(Delta)) (string, error) {
	out, err := f.GenerateText(ctx, system, user, maxTokens)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(Delta{Reasoning: "fake reasoning"})
		onDelta(Delta{Content: out})
	}
	return out, nil
}
