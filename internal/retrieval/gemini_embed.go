package retrieval

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"
)

// GeminiEmbedder embeds text with the genai embedding models.
type GeminiEmbedder struct {
	cli   *genai.Client
	model string
}

func NewGeminiEmbedder(ctx context.Context, model string) (*GeminiEmbedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{cli: cli, model: model}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.cli.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("retrieval: empty embedding from %s", g.model)
	}
	return resp.Embeddings[0].Values, nil
}
