package llmprovider

import (
	"context"
	"testing"

	"github.com/Onegaishimas/bin2nlp/internal/types"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic missing key", Config{Kind: types.ProviderAnthropic}, true},
		{"anthropic ok", Config{Kind: types.ProviderAnthropic, APIKey: "sk-ant-x"}, false},
		{"openai missing key", Config{Kind: types.ProviderOpenAI}, true},
		{"ollama missing endpoint", Config{Kind: types.ProviderOllama, APIKey: "unused"}, true},
		{"ollama ok", Config{Kind: types.ProviderOllama, Endpoint: "http://localhost:11434"}, false},
		{"unrecognized kind", Config{Kind: types.ProviderKind("carrier-pigeon")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

type fakeProvider struct {
	kind    types.ProviderKind
	failing bool
	calls   int
}

func (f *fakeProvider) Kind() types.ProviderKind { return f.kind }
func (f *fakeProvider) EstimateTokens(prompt string) int { return len(prompt)/4 + 1 }
func (f *fakeProvider) Generate(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	f.calls++
	if f.failing {
		return Completion{}, errFakeBackend
	}
	return Completion{Text: "ok", InputTokens: 1, OutputTokens: 1}, nil
}

var errFakeBackend = &fakeErr{"backend down"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestCircuitBreakingProviderOpensAfterFailures(t *testing.T) {
	inner := &fakeProvider{kind: types.ProviderOpenAI, failing: true}
	p := NewCircuitBreakingProvider(inner)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = p.Generate(context.Background(), "hi", 100)
	}
	if lastErr == nil {
		t.Fatalf("expected failure from backend before breaker opens")
	}

	// Breaker should now be open; Generate should fail fast without
	// reaching the inner provider.
	callsBefore := inner.calls
	_, err := p.Generate(context.Background(), "hi", 100)
	if err == nil {
		t.Fatalf("expected circuit-open error")
	}
	if inner.calls != callsBefore {
		t.Fatalf("expected inner provider not to be called while circuit open")
	}
}

func TestCircuitBreakingProviderPassesThroughSuccess(t *testing.T) {
	inner := &fakeProvider{kind: types.ProviderAnthropic}
	p := NewCircuitBreakingProvider(inner)

	got, err := p.Generate(context.Background(), "hi", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "ok" {
		t.Fatalf("expected passthrough completion, got %+v", got)
	}
	if p.Kind() != types.ProviderAnthropic {
		t.Fatalf("expected Kind() to pass through")
	}
	if p.EstimateTokens("abcdefgh") != inner.EstimateTokens("abcdefgh") {
		t.Fatalf("expected EstimateTokens to pass through")
	}
}

func TestNewRegistrySkipsInvalidConfigs(t *testing.T) {
	cfgs := []Config{
		{Kind: types.ProviderAnthropic}, // missing key, should error
		{Kind: types.ProviderOllama, Endpoint: "http://localhost:11434"},
	}
	reg, errs := NewRegistry(context.Background(), cfgs)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if _, ok := reg.Get(types.ProviderOllama); !ok {
		t.Fatalf("expected ollama provider registered")
	}
	if _, ok := reg.Get(types.ProviderAnthropic); ok {
		t.Fatalf("expected anthropic provider not registered")
	}
}
