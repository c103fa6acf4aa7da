// Package llmprovider implements the Stage B LLM provider boundary: a
// capability set {Generate, EstimateTokens} plus a tagged-kind enum, per
// §9's replacement for subclass-based provider polymorphism. Four kinds are
// recognized: anthropic, openai, gemini, ollama.
package llmprovider

import (
	"context"
	"time"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// Completion is the result of one Generate call.
type Completion struct {
	Text             string
	InputTokens      int
	OutputTokens     int
}

// Provider is the capability set every LLM backend implements, replacing
// subclass polymorphism per §9's DESIGN NOTES.
type Provider interface {
	Kind() types.ProviderKind
	// EstimateTokens returns the approximate input token count for prompt,
	// used by the rate limiter to reserve llm-tier budget before the call.
	EstimateTokens(prompt string) int
	// Generate issues prompt to the backend, bounded by deadline (carried
	// via ctx) and maxTokens.
	Generate(ctx context.Context, prompt string, maxTokens int) (Completion, error)
}

// Config is the closed, per-provider configuration bag validated against
// the requirements of Kind, per §6: hosted kinds require an API key;
// self-hosted kinds require an endpoint URL and are accepted with an empty
// API key.
type Config struct {
	Kind     types.ProviderKind
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Validate enforces §6's per-kind configuration requirements.
func (c Config) Validate() error {
	switch c.Kind {
	case types.ProviderAnthropic, types.ProviderOpenAI, types.ProviderGemini:
		if c.APIKey == "" {
			return configError(c.Kind, "API key is required for a hosted provider")
		}
	case types.ProviderOllama:
		if c.Endpoint == "" {
			return configError(c.Kind, "endpoint URL is required for a self-hosted provider")
		}
		if c.APIKey == "" {
			// Validate has a value receiver, so this placeholder only fills
			// its own copy: the caller's Config keeps an empty APIKey.
			c.APIKey = "unused"
		}
	default:
		return configError(c.Kind, "unrecognized provider kind")
	}
	return nil
}
