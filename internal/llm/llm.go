package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrEmptyOutput = errors.New("llm: empty output from model")
	ErrInvalidJSON = errors.New("llm: invalid JSON from model")
)

// Delta is one streamed increment. Reasoning carries model thinking when
// the backend exposes it; Content carries prose.
type Delta struct {
	Reasoning string
	Content   string
}

// Generator is the generation backend contract: system+user prompt in,
// text (or a token stream) out.
type Generator interface {
	Name() string
	Close() error
	CountTokens(text string) int
	TokenCapacity() int
	GenerateText(ctx context.Context, system, user string, maxTokens int) (string, error)
	GenerateJSON(ctx context.Context, system, user string, maxTokens int) (json.RawMessage, error)
	// GenerateStream yields deltas to onDelta before returning the final
	// text. Backends without a streaming API emit the final text as a
	// single content delta.
	GenerateStream(ctx context.Context, system, user string, maxTokens int, onDelta func(Delta)) (string, error)
}

// CountTokens is a rough estimator shared by backends and the chunker:
// whitespace words, falling back to a char/4 heuristic. It is a heuristic
// ceiling, never exact tokenizer output.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	if len(words) > 0 {
		return len(words)
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
