package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// OpenAIAdapter serves all three capabilities: chat completions for
// text, gpt-image-1 for images, and the speech endpoint for audio.
type OpenAIAdapter struct {
	client *openai.Client
	config AdapterConfig
}

const (
	defaultOpenAITextModel  = "gpt-4.1-mini"
	defaultOpenAIImageModel = "gpt-image-1"
	defaultOpenAIAudioModel = "gpt-4o-mini-tts"
	defaultOpenAIVoice      = "alloy"
)

// NewOpenAIAdapter creates an adapter from the given config.
func NewOpenAIAdapter(config AdapterConfig) (*OpenAIAdapter, error) {
	if config.TextModel == "" {
		config.TextModel = defaultOpenAITextModel
	}
	if config.ImageModel == "" {
		config.ImageModel = defaultOpenAIImageModel
	}
	if config.AudioModel == "" {
		config.AudioModel = defaultOpenAIAudioModel
	}
	if config.AudioVoice == "" {
		config.AudioVoice = defaultOpenAIVoice
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

	client := openai.NewClient(opts...)

	return &OpenAIAdapter{
		client: &client,
		config: config,
	}, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Capabilities returns the generation kinds this adapter supports.
func (a *OpenAIAdapter) Capabilities() []Capability {
	return []Capability{CapabilityText, CapabilityImage, CapabilityAudio}
}

// DefaultModel implements ModelResolver.
func (a *OpenAIAdapter) DefaultModel(c Capability) string {
	switch c {
	case CapabilityText:
		return a.config.TextModel
	case CapabilityImage:
		return a.config.ImageModel
	case CapabilityAudio:
		return a.config.AudioModel
	default:
		return ""
	}
}

// Invoke dispatches on the invocation's capability.
func (a *OpenAIAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	switch inv.Capability {
	case CapabilityText:
		return a.generateText(ctx, inv)
	case CapabilityImage:
		return a.generateImage(ctx, inv)
	case CapabilityAudio:
		return a.generateAudio(ctx, inv)
	default:
		return nil, errors.New(errors.ClassFatal,
			fmt.Sprintf("openai adapter cannot serve %q invocations", inv.Capability), nil)
	}
}

func (a *OpenAIAdapter) generateText(ctx context.Context, inv *Invocation) (*Result, error) {
	model := a.config.TextModel
	if inv.Model != "" {
		model = inv.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(inv.Prompt),
		},
	}
	if inv.Temperature != nil {
		params.Temperature = openai.Float(*inv.Temperature)
	}
	if inv.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(inv.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(errors.ClassTransient, "openai returned no choices", nil)
	}

	return &Result{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: a.Name(),
		Usage: artifact.Usage{
			TokensIn:  resp.Usage.PromptTokens,
			TokensOut: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) generateImage(ctx context.Context, inv *Invocation) (*Result, error) {
	model := a.config.ImageModel
	if inv.Model != "" {
		model = inv.Model
	}

	resp, err := a.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: inv.Prompt,
		Model:  openai.ImageModel(model),
		Size:   imageSize(inv.Width, inv.Height),
	})
	if err != nil {
		return nil, fmt.Errorf("openai image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New(errors.ClassTransient, "openai returned no image data", nil)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errors.New(errors.ClassTransient, "openai image payload is not valid base64", err)
	}

	return &Result{
		Data:     data,
		MIME:     "image/png",
		Model:    model,
		Provider: a.Name(),
	}, nil
}

func (a *OpenAIAdapter) generateAudio(ctx context.Context, inv *Invocation) (*Result, error) {
	model := a.config.AudioModel
	if inv.Model != "" {
		model = inv.Model
	}
	voice := a.config.AudioVoice
	if inv.Voice != "" {
		voice = inv.Voice
	}

	resp, err := a.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(model),
		Input:          inv.Prompt,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.ClassTransient, "read openai speech response", err)
	}

	return &Result{
		Data:     data,
		MIME:     "audio/mpeg",
		Model:    model,
		Provider: a.Name(),
	}, nil
}

// imageSize maps requested dimensions onto the sizes gpt-image-1
// accepts. Sprites are upscaled targets; the variation layer resizes.
func imageSize(width, height int) openai.ImageGenerateParamsSize {
	switch {
	case width > height:
		return openai.ImageGenerateParamsSize1536x1024
	case height > width:
		return openai.ImageGenerateParamsSize1024x1536
	default:
		return openai.ImageGenerateParamsSize1024x1024
	}
}
