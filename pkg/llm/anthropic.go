package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is the API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	// Model is the model name.
	Model string

	// MaxTokens bounds a single completion.
	MaxTokens int
}

// AnthropicProvider implements Provider with the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrProviderUnavailable)
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Complete sends the prompt and returns the concatenated text blocks.
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
