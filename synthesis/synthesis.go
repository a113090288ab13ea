// Package synthesis turns a fused context into an answer, through the
// configured model when it is usable and a fixed template otherwise.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/brunobiangulo/hybridrag/fusion"
	"github.com/brunobiangulo/hybridrag/llm"
)

// NoInformationAnswer is returned when retrieval found nothing.
const NoInformationAnswer = "Sorry, I couldn't find any relevant information."

// DefaultTimeout bounds the model call.
const DefaultTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/brunobiangulo/hybridrag/synthesis")

// Outcome names the path an answer took.
type Outcome string

const (
	OutcomeNoContext Outcome = "no_context"
	OutcomeModel     Outcome = "model"
	OutcomeFallback  Outcome = "fallback"
)

// Answer is a synthesized answer. Degraded marks a template answer.
type Answer struct {
	Text             string        `json:"text"`
	Sources          []string      `json:"sources"`
	Degraded         bool          `json:"degraded"`
	Outcome          Outcome       `json:"outcome"`
	ModelUsed        string        `json:"model_used,omitempty"`
	FallbackReason   string        `json:"fallback_reason,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Chatter is the model capability the synthesizer needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Config tunes the model call.
type Config struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Synthesizer answers questions from fused context.
type Synthesizer struct {
	model Chatter
	cfg   Config
}

// New creates a synthesizer. A nil model means every answer with context
// uses the fallback template.
func New(model Chatter, cfg Config) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Synthesizer{model: model, cfg: cfg}
}

// ModelAvailable reports whether a model is wired in.
func (s *Synthesizer) ModelAvailable() bool {
	return s != nil && s.model != nil
}

// Answer produces the answer for question. It never fails: an empty
// context yields NoInformationAnswer, and a missing, failing or slow model
// yields the fallback template. The model is called at most once.
func (s *Synthesizer) Answer(ctx context.Context, question string, fc *fusion.Context) Answer {
	start := time.Now()
	question = strings.TrimSpace(question)

	if fc.Empty() {
		return Answer{Text: NoInformationAnswer, Sources: []string{}, Outcome: OutcomeNoContext, Elapsed: time.Since(start)}
	}
	contextText := fc.String()

	if !s.ModelAvailable() {
		return fallback(question, contextText, "model not configured", start)
	}

	ctx, span := tracer.Start(ctx, "synthesis.answer")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.model.Chat(callCtx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(question, contextText)},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err == nil && resp == nil {
		err = fmt.Errorf("model returned no response")
	}
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("model call timed out after %s: %w", s.cfg.Timeout, err)
		}
		span.RecordError(err)
		slog.Warn("synthesis: model unavailable, using fallback", "error", err,
			"elapsed", time.Since(start).Round(time.Millisecond))
		return fallback(question, contextText, err.Error(), start)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		slog.Warn("synthesis: model returned empty answer, using fallback")
		return fallback(question, contextText, "empty model output", start)
	}

	span.SetAttributes(attribute.String("model", resp.Model), attribute.Int("total_tokens", resp.TotalTokens))
	slog.Debug("synthesis: model answer", "model", resp.Model, "tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return Answer{
		Text:             text,
		Sources:          fc.Sources(),
		Outcome:          OutcomeModel,
		ModelUsed:        resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Elapsed:          time.Since(start),
	}
}

// FallbackText is the template answer for question and its context.
func FallbackText(question, contextText string) string {
	return fmt.Sprintf("Here's what I found about '%s':\n\n%s", question, contextText)
}

func fallback(question, contextText, reason string, start time.Time) Answer {
	return Answer{
		Text:           FallbackText(question, contextText),
		Sources:        []string{},
		Degraded:       true,
		Outcome:        OutcomeFallback,
		FallbackReason: reason,
		Elapsed:        time.Since(start),
	}
}

const systemPrompt = `You are a helpful assistant for a food and product catalog. Answer questions using ONLY the provided context.
Rules:
1. Only state facts supported by the context.
2. If the context does not contain the answer, say so plainly.
3. Keep product, recipe and ingredient names exactly as written.
4. Be concise.`

// BuildPrompt embeds the context and question in the user prompt.
func BuildPrompt(question, contextText string) string {
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer the question based only on the context above.`, contextText, question)
}
