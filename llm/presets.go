package llm

import "context"

// preset describes a hosted or local service that speaks the
// OpenAI-compatible API with its own defaults.
type preset struct {
	baseURL      string
	pathPrefix   string
	defaultModel string
	keyPrefix    string // expected API key prefix, empty when any key is accepted
	local        bool   // no credential needed
}

var presets = map[string]preset{
	"openai": {
		baseURL:      "https://api.openai.com",
		pathPrefix:   "/v1",
		defaultModel: "gpt-4o-mini",
		keyPrefix:    "sk-",
	},
	"groq": {
		baseURL:      "https://api.groq.com/openai",
		pathPrefix:   "/v1",
		defaultModel: "llama-3.3-70b-versatile",
		keyPrefix:    "gsk_",
	},
	"xai": {
		baseURL:    "https://api.x.ai",
		pathPrefix: "/v1",
		keyPrefix:  "xai-",
	},
	"openrouter": {
		baseURL:    "https://openrouter.ai/api",
		pathPrefix: "/v1",
		keyPrefix:  "sk-or-",
	},
	// Gemini's OpenAI-compatible endpoint has no /v1 segment.
	"gemini": {
		baseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
		defaultModel: "gemini-2.5-flash",
		keyPrefix:    "AIza",
	},
	"lmstudio": {
		baseURL:    "http://localhost:1234",
		pathPrefix: "/v1",
		local:      true,
	},
}

// presetProvider implements Provider for any service in presets.
type presetProvider struct {
	name string
	base endpoint
}

func newPresetProvider(cfg Config, p preset) *presetProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.defaultModel
	}
	return &presetProvider{name: cfg.Provider, base: newEndpoint(cfg, p.pathPrefix)}
}

func (p *presetProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *presetProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
