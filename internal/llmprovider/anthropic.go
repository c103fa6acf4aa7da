package llmprovider

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

// AnthropicProvider wraps the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider constructs a provider bound to apiKey/model.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicProvider{client: client, model: model}, nil
}

func (p *AnthropicProvider) Kind() types.ProviderKind { return types.ProviderAnthropic }

// EstimateTokens approximates token count at roughly 4 characters per
// token, the rough-order-of-magnitude estimate the rate limiter needs
// before the call; actual usage is recorded post-hoc from the response.
func (p *AnthropicProvider) EstimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int) (Completion, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, bin2nlperr.Wrap(bin2nlperr.ProviderUnavailable, "llmprovider", "anthropic generate failed", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return Completion{
		Text:         sb.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
