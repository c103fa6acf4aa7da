package llmprovider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// CircuitBreakingProvider wraps a Provider with a per-provider gobreaker
// circuit, so a struggling backend stops absorbing per-artifact call
// latency across an entire job once it has failed repeatedly. A per-artifact
// provider failure is still tolerated by the executor (§4.7); the breaker
// only shortens how long a doomed backend keeps getting tried.
type CircuitBreakingProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakingProvider wraps inner with a breaker that opens after 5
// consecutive failures and probes again after 30s.
func NewCircuitBreakingProvider(inner Provider) *CircuitBreakingProvider {
	log := obslog.WithComponent("llmprovider")
	settings := gobreaker.Settings{
		Name:        string(inner.Kind()),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("provider circuit breaker state change")
		},
	}
	return &CircuitBreakingProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *CircuitBreakingProvider) Kind() types.ProviderKind { return p.inner.Kind() }

func (p *CircuitBreakingProvider) EstimateTokens(prompt string) int {
	return p.inner.EstimateTokens(prompt)
}

func (p *CircuitBreakingProvider) Generate(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.Generate(ctx, prompt, maxTokens)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Completion{}, bin2nlperr.Wrap(bin2nlperr.ProviderUnavailable, "llmprovider", "circuit open", err)
		}
		return Completion{}, err
	}
	return result.(Completion), nil
}
