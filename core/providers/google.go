package providers

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// GoogleAdapter generates text with Gemini models through the Gemini
// API backend.
type GoogleAdapter struct {
	client *genai.Client
	config AdapterConfig
}

const defaultGoogleTextModel = "gemini-2.0-flash"

// NewGoogleAdapter creates an adapter from the given config.
func NewGoogleAdapter(ctx context.Context, config AdapterConfig) (*GoogleAdapter, error) {
	if config.TextModel == "" {
		config.TextModel = defaultGoogleTextModel
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GoogleAdapter{
		client: client,
		config: config,
	}, nil
}

// Name returns the provider identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Capabilities returns the generation kinds this adapter supports.
func (a *GoogleAdapter) Capabilities() []Capability {
	return []Capability{CapabilityText}
}

// DefaultModel implements ModelResolver.
func (a *GoogleAdapter) DefaultModel(c Capability) string {
	if c == CapabilityText {
		return a.config.TextModel
	}
	return ""
}

// Invoke performs a non-streaming content generation request.
func (a *GoogleAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if inv.Capability != CapabilityText {
		return nil, errors.New(errors.ClassFatal,
			fmt.Sprintf("google adapter cannot serve %q invocations", inv.Capability), nil)
	}

	model := a.config.TextModel
	if inv.Model != "" {
		model = inv.Model
	}

	cfg := &genai.GenerateContentConfig{}
	if inv.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*inv.Temperature))
	}
	if inv.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(inv.MaxTokens)
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(inv.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	result := &Result{
		Text:     resp.Text(),
		Model:    model,
		Provider: a.Name(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = artifact.Usage{
			TokensIn:  int64(resp.UsageMetadata.PromptTokenCount),
			TokensOut: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}
