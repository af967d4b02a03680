package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"storyloom/internal/llm"
)

// Critic reviews drafts and gates acceptance on a quality score.
type Critic struct {
	gen           llm.Generator
	Threshold     int // minimum score (1-10) to approve
	MaxIterations int
}

type Critique struct {
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
	Approved    bool     `json:"-"`
}

func NewCritic(gen llm.Generator) *Critic {
	return &Critic{gen: gen, Threshold: 7, MaxIterations: 3}
}

const criticSystemPrompt = `You are an expert editor evaluating one section of a longer document.
Score 1-10 on clarity, flow, grammar, consistency with context, and originality.
Respond with JSON only: {"score": 8, "feedback": "...", "suggestions": ["..."]}`

func (c *Critic) Critique(ctx context.Context, content string) (Critique, error) {
	ctx = llm.WithPhase(ctx, "critique")
	raw, err := c.gen.GenerateJSON(ctx, criticSystemPrompt, "Evaluate this content:\n\n"+clip(content, 3000), 1024)
	if err != nil {
		return Critique{}, err
	}
	var crit Critique
	if err := json.Unmarshal(raw, &crit); err != nil {
		return Critique{}, fmt.Errorf("%w: %v", llm.ErrInvalidJSON, err)
	}
	if crit.Score < 1 || crit.Score > 10 {
		return Critique{}, fmt.Errorf("%w: score %d out of range", llm.ErrInvalidJSON, crit.Score)
	}
	crit.Approved = crit.Score >= c.Threshold
	return crit, nil
}
