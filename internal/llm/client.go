// Package llm implements the model invocation channel: text request in,
// raw model text out. Provider, model, and temperature are fixed at
// construction from validated config; errors come back classified as
// transient, auth, or protocol so the engine can decide retry policy.
package llm

import (
	"context"
	"fmt"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/config"
)

// Client is the interface the prediction engine invokes.
type Client interface {
	// Invoke sends a composed request and returns the raw model text.
	Invoke(ctx context.Context, request string) (string, error)
	// Model returns the configured model identifier.
	Model() string
}

// NewClient builds a provider client from validated config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured for provider %s", cfg.Provider)
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
