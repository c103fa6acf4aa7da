package llmprovider

import (
	"context"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// New constructs the Provider for cfg.Kind and wraps it in a circuit
// breaker, so callers never talk to a raw backend client directly.
func New(ctx context.Context, cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Kind {
	case types.ProviderAnthropic:
		p, err = NewAnthropicProvider(cfg)
	case types.ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg)
	case types.ProviderGemini:
		p, err = NewGeminiProvider(ctx, cfg)
	case types.ProviderOllama:
		p, err = NewOllamaProvider(cfg)
	default:
		return nil, configError(cfg.Kind, "unrecognized provider kind")
	}
	if err != nil {
		return nil, err
	}
	return NewCircuitBreakingProvider(p), nil
}

// Registry holds one breaker-wrapped Provider per configured kind, letting
// the executor pick a provider per job without reconstructing clients.
type Registry struct {
	providers map[types.ProviderKind]Provider
}

// NewRegistry builds providers for every entry in cfgs, skipping any kind
// that fails validation rather than aborting the whole registry, since a
// deployment may only have credentials for a subset of kinds.
func NewRegistry(ctx context.Context, cfgs []Config) (*Registry, []error) {
	r := &Registry{providers: make(map[types.ProviderKind]Provider, len(cfgs))}
	var errs []error
	for _, cfg := range cfgs {
		p, err := New(ctx, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.providers[cfg.Kind] = p
	}
	return r, errs
}

// Get returns the registered provider for kind.
func (r *Registry) Get(kind types.ProviderKind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds returns the set of kinds this registry has a live provider for.
func (r *Registry) Kinds() []types.ProviderKind {
	kinds := make([]types.ProviderKind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}
