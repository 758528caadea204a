// Package config loads the pixelsmith configuration file and exposes an
// atomic snapshot to every component.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Style     StyleConfig     `yaml:"style"`
}

// ProvidersConfig configures the vendor adapters and resiliency envelope.
type ProvidersConfig struct {
	Default      string   `yaml:"default"`
	Fallbacks    []string `yaml:"fallbacks"`
	CallTimeout  Duration `yaml:"call_timeout"`
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
	Burst        float64  `yaml:"burst"`

	Anthropic VendorConfig `yaml:"anthropic"`
	OpenAI    VendorConfig `yaml:"openai"`
	Gemini    VendorConfig `yaml:"gemini"`
}

// VendorConfig holds one vendor's credentials and model selection.
// APIKey supports ${ENV_VAR} expansion.
type VendorConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"`
	AudioModel string `yaml:"audio_model"`
	AudioVoice string `yaml:"audio_voice"`
}

// CacheConfig configures the two response-cache tiers.
type CacheConfig struct {
	Dir            string `yaml:"dir"`
	MemoryMaxBytes int64  `yaml:"memory_max_bytes"`
	DiskMaxEntries int    `yaml:"disk_max_entries"`
}

// PipelineConfig configures orchestration.
type PipelineConfig struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	PhaseTimeout   Duration `yaml:"phase_timeout"`
	ProjectDir     string   `yaml:"project_dir"`
}

// StyleConfig configures style-guide generation and compliance.
type StyleConfig struct {
	// Temperature for the style-guide phase. Kept low: downstream
	// consistency depends on a reproducible guide.
	Temperature float64 `yaml:"temperature"`

	// PaletteTolerance is the max RGB distance from a sampled pixel to the
	// nearest palette entry before an image is flagged non-compliant.
	PaletteTolerance float64 `yaml:"palette_tolerance"`

	// SampleStride controls how densely compliance sampling walks pixels.
	SampleStride int `yaml:"sample_stride"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Default:      "openai",
			CallTimeout:  Duration(2 * time.Minute),
			RateLimitRPS: 2,
			Burst:        4,
			Anthropic:    VendorConfig{APIKey: "${ANTHROPIC_API_KEY}", TextModel: "claude-haiku-4-5-20251001"},
			OpenAI: VendorConfig{
				APIKey:     "${OPENAI_API_KEY}",
				TextModel:  "gpt-4.1-mini",
				ImageModel: "gpt-image-1",
				AudioModel: "gpt-4o-mini-tts",
				AudioVoice: "alloy",
			},
			Gemini: VendorConfig{APIKey: "${GEMINI_API_KEY}", TextModel: "gemini-2.0-flash"},
		},
		Cache: CacheConfig{
			Dir:            ".pixelsmith/cache",
			MemoryMaxBytes: 256 << 20,
			DiskMaxEntries: 4096,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency: 4,
			PhaseTimeout:   Duration(30 * time.Minute),
			ProjectDir:     ".pixelsmith/projects",
		},
		Style: StyleConfig{
			Temperature:      0.1,
			PaletteTolerance: 24,
			SampleStride:     4,
		},
	}
}

// Manager provides lock-free reads of the active configuration.
type Manager struct {
	current atomic.Pointer[Config]
}

// NewManager creates a manager seeded with defaults. Credential
// references are expanded immediately so an unset env var reads as an
// empty key, not a literal "${...}" placeholder.
func NewManager() *Manager {
	m := &Manager{}
	cfg := DefaultConfig()
	expandCredentials(cfg)
	m.current.Store(cfg)
	return m
}

// Load merges a yaml file over the defaults, expanding ${ENV} references in
// credential fields, and makes the result the active snapshot.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	expandCredentials(cfg)
	m.current.Store(cfg)
	return nil
}

// Get returns the active configuration snapshot. The returned value must be
// treated as read-only.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Set replaces the active snapshot (used by tests and the CLI flags layer).
func (m *Manager) Set(cfg *Config) {
	expandCredentials(cfg)
	m.current.Store(cfg)
}

func expandCredentials(cfg *Config) {
	cfg.Providers.Anthropic.APIKey = os.ExpandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = os.ExpandEnv(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.Gemini.APIKey = os.ExpandEnv(cfg.Providers.Gemini.APIKey)
}
