package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()

	m := NewManager()
	cfg := m.Get()

	assert.Equal(t, "openai", cfg.Providers.Default)
	assert.Equal(t, 2*time.Minute, cfg.Providers.CallTimeout.Std())
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.InDelta(t, 0.1, cfg.Style.Temperature, 1e-9)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixelsmith.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  default: anthropic
  call_timeout: 90s
pipeline:
  max_concurrency: 8
`), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))

	cfg := m.Get()
	assert.Equal(t, "anthropic", cfg.Providers.Default)
	assert.Equal(t, 90*time.Second, cfg.Providers.CallTimeout.Std())
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrency)
	// Untouched sections keep defaults.
	assert.Equal(t, int64(256<<20), cfg.Cache.MemoryMaxBytes)
}

func TestDefaultsExpandEnvCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default-path")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := NewManager().Get()

	// The default config references ${ENV} placeholders; they must never
	// survive as literal API keys.
	assert.Equal(t, "sk-default-path", cfg.Providers.OpenAI.APIKey)
	assert.Empty(t, cfg.Providers.Anthropic.APIKey)
	assert.NotContains(t, cfg.Providers.Gemini.APIKey, "${")
}

func TestLoadExpandsEnvCredentials(t *testing.T) {
	t.Setenv("PIXELSMITH_TEST_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "pixelsmith.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  openai:
    api_key: ${PIXELSMITH_TEST_KEY}
`), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))
	assert.Equal(t, "sk-test-123", m.Get().Providers.OpenAI.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	m := NewManager()
	assert.Error(t, m.Load(filepath.Join(t.TempDir(), "absent.yaml")))
}
