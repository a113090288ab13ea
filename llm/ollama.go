package llm

import (
	"context"
	"fmt"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaProvider talks to a local Ollama daemon. Chat uses its
// OpenAI-compatible route; embeddings use the native batched /api/embed,
// which returns plain arrays instead of indexed objects.
type ollamaProvider struct {
	base endpoint
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	return &ollamaProvider{base: newEndpoint(cfg, "")}
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	v1 := p.base
	v1.prefix = "/v1"
	return v1.chat(ctx, req)
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	req := embeddingRequest{Model: p.base.cfg.Model, Input: texts}
	if err := p.base.postJSON(ctx, "/api/embed", req, &resp, p.base.cfg.EmbedRetries); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = toFloat32(v)
	}
	return out, nil
}
