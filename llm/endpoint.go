package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// APIError is a non-200 answer from a model endpoint.
type APIError struct {
	URL        string
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, zero if absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error %d from %s: %s", e.Status, e.URL, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Backoff delays between attempts. Variables so tests can shrink them.
var (
	retryBase      = 2 * time.Second
	rateLimitFloor = 5 * time.Second
)

// retryDelay is the pause before attempt n (n >= 1). Rate limits wait at
// least rateLimitFloor and honor a longer Retry-After.
func retryDelay(n int, err error) time.Duration {
	d := retryBase << (n - 1)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		d = max(d, rateLimitFloor<<(n-1), apiErr.RetryAfter)
	}
	return d
}

// endpoint is an HTTP JSON client for one configured model service.
type endpoint struct {
	cfg    Config
	hc     *http.Client
	prefix string // path prefix such as "/v1"
}

func newEndpoint(cfg Config, prefix string) endpoint {
	// Upper bound for a single exchange; request contexts usually carry
	// the tighter answer timeout.
	return endpoint{cfg: cfg, prefix: prefix, hc: &http.Client{Timeout: 120 * time.Second}}
}

// postJSON sends in to path and decodes the 200 response into out.
// Transport errors and temporary API errors are retried up to retries
// extra times; 0 means exactly one attempt.
func (e endpoint) postJSON(ctx context.Context, path string, in, out any, retries int) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	url := e.cfg.BaseURL + e.prefix + path

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			slog.Warn("llm: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		body, err := e.send(ctx, url, data)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decoding response from %s: %w", url, err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
	}

	if retries == 0 {
		return lastErr
	}
	return fmt.Errorf("giving up after %d attempts: %w", retries+1, lastErr)
}

// send makes a single POST and returns the body of a 200 response.
func (e endpoint) send(ctx context.Context, url string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{URL: url, Status: resp.StatusCode, Body: string(body)}
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return nil, apiErr
	}
	return body, nil
}

// OpenAI-compatible wire types.
type (
	chatCompletionRequest struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	chatCompletionResponse struct {
		Model   string `json:"model"`
		Choices []struct {
			Message      Message `json:"message"`
			FinishReason string  `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	embeddingRequest struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}

	embeddingResponse struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
)

// chat makes one chat completion call. It is never retried: a failed
// answer degrades to the fallback template instead.
func (e endpoint) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = e.cfg.Model
	}

	var resp chatCompletionResponse
	err := e.postJSON(ctx, "/chat/completions", chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &resp, 0)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// embed calls /embeddings and returns vectors in input order, whatever
// order the service lists them in.
func (e endpoint) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embeddingResponse
	if err := e.postJSON(ctx, "/embeddings", embeddingRequest{Model: e.cfg.Model, Input: texts}, &resp, e.cfg.EmbedRetries); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = toFloat32(d.Embedding)
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// customProvider serves any OpenAI-compatible base URL.
type customProvider struct {
	base endpoint
}

// NewOpenAICompat creates a provider for a self-hosted OpenAI-compatible
// server. BaseURL must include everything before /v1.
func NewOpenAICompat(cfg Config) Provider {
	return &customProvider{base: newEndpoint(cfg, "/v1")}
}

func (p *customProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *customProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
