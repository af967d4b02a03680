package llm

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli      *genai.Client
	model    string
	tokenCap int
	rl       *rpsLimiter
}

func NewGeminiClient(ctx context.Context, model string, tokenCap int) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if tokenCap <= 0 {
		tokenCap = 8192
	}
	// Optional RPS limiter via env: LLM_RPS and LLM_BURST.
	var rps float64
	var burst int
	if v := os.Getenv("LLM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rps = f
		}
	}
	if v := os.Getenv("LLM_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			burst = n
		}
	}
	return &GeminiClient{cli: cli, model: model, tokenCap: tokenCap, rl: newRPSLimiter(rps, burst)}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error {
	g.rl.Stop()
	return nil
}
func (g *GeminiClient) CountTokens(text string) int { return CountTokens(text) }
func (g *GeminiClient) TokenCapacity() int          { return g.tokenCap }

func (g *GeminiClient) config(system string, maxTokens int, mime string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if mime != "" {
		cfg.ResponseMIMEType = mime
	}
	return cfg
}

func (g *GeminiClient) generate(ctx context.Context, system, user string, maxTokens int, mime string) (string, error) {
	phase := PhaseFrom(ctx)
	log.Printf("llm: gemini request (%s): %d bytes", phase, len(system)+len(user))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := g.rl.Acquire(ctx); err != nil {
			return "", err
		}
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: user}}}},
			g.config(system, maxTokens, mime),
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrEmptyOutput
		} else {
			var sb strings.Builder
			for _, p := range resp.Candidates[0].Content.Parts {
				if p.Thought {
					continue
				}
				sb.WriteString(p.Text)
			}
			out := sb.String()
			if strings.TrimSpace(out) == "" {
				lastErr = ErrEmptyOutput
			} else {
				return out, nil
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return "", lastErr
}

func (g *GeminiClient) GenerateText(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return g.generate(ctx, system, user, maxTokens, "")
}

func (g *GeminiClient) GenerateJSON(ctx context.Context, system, user string, maxTokens int) (json.RawMessage, error) {
	out, err := g.generate(ctx, system, user, maxTokens, "application/json")
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(out)
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}

// GenerateStream streams thinking and content deltas as the model emits
// them, then returns the concatenated content.
func (g *GeminiClient) GenerateStream(ctx context.Context, system, user string, maxTokens int, onDelta func(Delta)) (string, error) {
	if err := g.rl.Acquire(ctx); err != nil {
		return "", err
	}
	var sb strings.Builder
	for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: user}}}},
		g.config(system, maxTokens, ""),
	) {
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.Text == "" {
				continue
			}
			if p.Thought {
				if onDelta != nil {
					onDelta(Delta{Reasoning: p.Text})
				}
				continue
			}
			if onDelta != nil {
				onDelta(Delta{Content: p.Text})
			}
			sb.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyOutput
	}
	return sb.String(), nil
}
