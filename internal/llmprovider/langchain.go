package llmprovider

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// langchainProvider adapts any langchaingo llms.Model to the Provider
// capability set, used for the openai/gemini/ollama kinds so the service
// only carries one ecosystem LLM client library beyond the Anthropic SDK.
type langchainProvider struct {
	kind  types.ProviderKind
	model llms.Model
}

// NewOpenAIProvider wraps langchaingo's OpenAI chat client.
func NewOpenAIProvider(cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Validation, "llmprovider", "construct openai client", err)
	}
	return &langchainProvider{kind: types.ProviderOpenAI, model: m}, nil
}

// NewGeminiProvider wraps langchaingo's Google AI (Gemini) client.
func NewGeminiProvider(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []googleai.Option{googleai.WithAPIKey(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(cfg.Model))
	}
	m, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Validation, "llmprovider", "construct gemini client", err)
	}
	return &langchainProvider{kind: types.ProviderGemini, model: m}, nil
}

// NewOllamaProvider wraps langchaingo's Ollama client against a self-hosted
// endpoint, per §6's self-hosted provider requirement.
func NewOllamaProvider(cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = "llama3"
	}
	m, err := ollama.New(ollama.WithServerURL(cfg.Endpoint), ollama.WithModel(model))
	if err != nil {
		return nil, bin2nlperr.Wrap(bin2nlperr.Validation, "llmprovider", "construct ollama client", err)
	}
	return &langchainProvider{kind: types.ProviderOllama, model: m}, nil
}

func (p *langchainProvider) Kind() types.ProviderKind { return p.kind }

func (p *langchainProvider) EstimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}

func (p *langchainProvider) Generate(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	resp, err := p.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llms.WithMaxTokens(maxTokens))
	if err != nil {
		return Completion{}, bin2nlperr.Wrap(bin2nlperr.ProviderUnavailable, "llmprovider", string(p.kind)+" generate failed", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, bin2nlperr.New(bin2nlperr.ProviderUnavailable, "llmprovider", string(p.kind)+" returned no choices")
	}
	choice := resp.Choices[0]
	inputTokens, outputTokens := 0, 0
	if choice.GenerationInfo != nil {
		if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
			inputTokens = v
		}
		if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
			outputTokens = v
		}
	}
	return Completion{Text: choice.Content, InputTokens: inputTokens, OutputTokens: outputTokens}, nil
}
