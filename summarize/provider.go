// Package summarize is the model-facing layer: chat providers, per-kind
// artifact summaries, retrieval-augmented question answering, and usage
// accounting for every model call.
package summarize

import (
	"context"

	"github.com/qacompanion/qac/config"
	"github.com/qacompanion/qac/errors"
)

// Request is a single chat exchange. Nil Temperature and MaxTokens use
// the provider's configured defaults.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64
	MaxTokens    *int
}

// Response carries the model output and its token accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Provider is a chat-capable model backend.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend ("anthropic", "local").
	Name() string

	// Model returns the configured model name.
	Model() string

	// EstimateCost returns the USD cost of a call with the given token
	// counts. Local inference is free.
	EstimateCost(promptTokens, completionTokens int) float64
}

// NewProvider selects a chat provider from configuration. Local
// inference wins when enabled; otherwise Anthropic when an API key is
// set.
func NewProvider(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, errors.New("no configuration provided")
	}
	if cfg.LocalInference.Enabled {
		return NewLocalProvider(&cfg.LocalInference), nil
	}
	if cfg.Anthropic.APIKey != "" {
		return NewAnthropicProvider(&cfg.Anthropic), nil
	}
	return nil, errors.WithHint(
		errors.New("no summarization provider configured"),
		"set anthropic.api_key or enable local_inference in the config",
	)
}
