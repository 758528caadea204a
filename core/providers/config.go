package providers

import "github.com/pixelsmith-ai/pixelsmith/core/errors"

// AdapterConfig configures one vendor adapter. Model fields left empty
// fall back to the adapter's defaults.
type AdapterConfig struct {
	APIKey  string
	BaseURL string

	TextModel  string
	ImageModel string
	AudioModel string
	AudioVoice string

	MaxTokens int
}

// Validate checks the config is usable.
func (c *AdapterConfig) Validate() error {
	if c.APIKey == "" {
		return errors.ErrMissingAPIKey
	}
	return nil
}

const defaultMaxTokens = 4096

func (c *AdapterConfig) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}
