package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// GroqClient calls the Groq Chat Completions API (OpenAI-compatible).
// See: https://console.groq.com/docs/api-reference
type GroqClient struct {
	http     *http.Client
	apiKey   string
	model    string
	baseURL  string
	tokenCap int
}

// NewGroqClient creates a Groq client. If apiKey is empty, it falls back
// to the GROQ_API_KEY env var.
func NewGroqClient(apiKey, model string, tokenCap int) (*GroqClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if tokenCap <= 0 {
		tokenCap = 6000
	}
	return &GroqClient{
		http:     &http.Client{Timeout: 60 * time.Second},
		apiKey:   apiKey,
		model:    model,
		baseURL:  "https://api.groq.com/openai/v1/chat/completions",
		tokenCap: tokenCap,
	}, nil
}

func (g *GroqClient) Name() string                  { return "Groq:" + g.model }
func (g *GroqClient) Close() error                  { return nil }
func (g *GroqClient) CountTokens(text string) int   { return CountTokens(text) }
func (g *GroqClient) TokenCapacity() int            { return g.tokenCap }

type groqChatReq struct {
	Model          string            `json:"model"`
	Messages       []groqMessage     `json:"messages"`
	Temperature    float32           `json:"temperature,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}
type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type groqChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *GroqClient) chat(ctx context.Context, system, user string, maxTokens int, jsonMode bool) (string, error) {
	reqBody := groqChatReq{
		Model: g.model,
		Messages: []groqMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	} else {
		reqBody.Temperature = 0.7
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		const max = 2048
		if len(body) > max {
			body = body[:max]
		}
		return "", fmt.Errorf("groq: unexpected status %s: %s", resp.Status, string(body))
	}
	var out groqChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyOutput
	}
	return out.Choices[0].Message.Content, nil
}

func (g *GroqClient) GenerateText(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return g.chat(ctx, system, user, maxTokens, false)
}

func (g *GroqClient) GenerateJSON(ctx context.Context, system, user string, maxTokens int) (json.RawMessage, error) {
	out, err := g.chat(ctx, system, user, maxTokens, true)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(out)
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}

// GenerateStream has no true streaming path; the final text is emitted as
// a single content delta.
func (g *GroqClient) GenerateStream(ctx context.Context, system, user string, maxTokens int, onDelta func(Delta)) (string, error) {
	out, err := g.GenerateText(ctx, system, user, maxTokens)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(Delta{Content: out})
	}
	return out, nil
}
