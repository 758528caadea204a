package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// AnthropicAdapter generates text with Claude models. Anthropic has no
// image or audio endpoint, so the adapter advertises text only.
type AnthropicAdapter struct {
	client *anthropic.Client
	config AdapterConfig
}

const defaultAnthropicTextModel = "claude-haiku-4-5-20251001"

// NewAnthropicAdapter creates an adapter from the given config.
func NewAnthropicAdapter(config AdapterConfig) (*AnthropicAdapter, error) {
	if config.TextModel == "" {
		config.TextModel = defaultAnthropicTextModel
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicAdapter{
		client: &client,
		config: config,
	}, nil
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Capabilities returns the generation kinds this adapter supports.
func (a *AnthropicAdapter) Capabilities() []Capability {
	return []Capability{CapabilityText}
}

// DefaultModel implements ModelResolver.
func (a *AnthropicAdapter) DefaultModel(c Capability) string {
	if c == CapabilityText {
		return a.config.TextModel
	}
	return ""
}

// Invoke performs a non-streaming completion request.
func (a *AnthropicAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if inv.Capability != CapabilityText {
		return nil, errors.New(errors.ClassFatal,
			fmt.Sprintf("anthropic adapter cannot serve %q invocations", inv.Capability), nil)
	}

	model := a.config.TextModel
	if inv.Model != "" {
		model = inv.Model
	}

	maxTokens := inv.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.config.maxTokens()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(inv.Prompt)),
		},
	}
	if inv.Temperature != nil {
		params.Temperature = anthropic.Float(*inv.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	return &Result{
		Text:     content,
		Model:    string(msg.Model),
		Provider: a.Name(),
		Usage: artifact.Usage{
			TokensIn:  msg.Usage.InputTokens,
			TokensOut: msg.Usage.OutputTokens,
		},
	}, nil
}
