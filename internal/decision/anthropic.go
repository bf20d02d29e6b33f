package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Backend produces a raw "option|explanation" answer for a prompt.
type Backend interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicBackend asks a Claude model through the Messages API.
type AnthropicBackend struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicBackend creates a backend. apiKey must not be empty.
func NewAnthropicBackend(apiKey, model string, maxTokens int) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is empty")
	}
	if maxTokens <= 0 {
		maxTokens = 50
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicBackend{
		client:    &client,
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Model returns the configured model name.
func (b *AnthropicBackend) Model() string {
	return b.model
}

func (b *AnthropicBackend) Complete(ctx context.Context, system, prompt string) (string, error) {
	response, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   b.maxTokens,
		Temperature: anthropic.Float(0.1),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic response contained no text")
	}
	return text.String(), nil
}
