package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbeddingsUnsupported is returned by providers that only offer chat.
var ErrEmbeddingsUnsupported = errors.New("llm: provider does not support embeddings")

// Provider is the interface for model interactions.
type Provider interface {
	// Chat sends a chat completion request. Implementations make exactly
	// one attempt; callers decide what a failure means.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a model provider.
type Config struct {
	Provider string `json:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, anthropic, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`

	// EmbedRetries bounds retries of embedding requests on 429/5xx.
	// Chat requests are never retried.
	EmbedRetries int `json:"embed_retries"`
}

// NewProvider creates a provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	if p, ok := presets[cfg.Provider]; ok {
		return newPresetProvider(cfg, p), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
}

// IsKnownProvider reports whether NewProvider accepts name.
func IsKnownProvider(name string) bool {
	switch name {
	case "ollama", "anthropic", "custom":
		return true
	}
	_, ok := presets[name]
	return ok
}
