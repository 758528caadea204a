package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
)

func textArtifact(name, text string) *artifact.Artifact {
	return &artifact.Artifact{
		Kind: artifact.KindText,
		Name: name,
		MIME: "text/plain",
		Text: text,
	}
}

func mustKey(t *testing.T, templateID, prompt string, params map[string]any) string {
	t.Helper()
	key, err := Key(templateID, prompt, params)
	require.NoError(t, err)
	return key
}

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	params := map[string]any{"temperature": 0.7, "model": "gpt-4.1-mini"}
	first := mustKey(t, "sprite", "draw a knight", params)
	second := mustKey(t, "sprite", "draw a knight", map[string]any{"model": "gpt-4.1-mini", "temperature": 0.7})

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestKeySensitivity(t *testing.T) {
	t.Parallel()

	base := mustKey(t, "sprite", "draw a knight", map[string]any{"temperature": 0.7})

	tests := []struct {
		name       string
		templateID string
		prompt     string
		params     map[string]any
	}{
		{"template changes", "tile", "draw a knight", map[string]any{"temperature": 0.7}},
		{"prompt changes", "sprite", "draw a wizard", map[string]any{"temperature": 0.7}},
		{"param value changes", "sprite", "draw a knight", map[string]any{"temperature": 0.8}},
		{"param added", "sprite", "draw a knight", map[string]any{"temperature": 0.7, "seed": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NotEqual(t, base, mustKey(t, tt.templateID, tt.prompt, tt.params))
		})
	}
}

func TestMemoryTierRoundtrip(t *testing.T) {
	t.Parallel()

	tier, err := NewMemoryTier(MemoryConfig{MaxBytes: 1 << 20})
	require.NoError(t, err)
	defer tier.Close()

	a := textArtifact("hero", "a brave knight")
	require.True(t, tier.Set("k1", a))
	tier.Wait()

	got, ok := tier.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "a brave knight", got.Text)

	_, ok = tier.Get("missing")
	assert.False(t, ok)
}

func TestDiskTierRoundtrip(t *testing.T) {
	t.Parallel()

	tier, err := NewDiskTier(DiskConfig{Dir: t.TempDir(), MaxEntries: 16})
	require.NoError(t, err)
	defer tier.Close()

	key := mustKey(t, "sprite", "draw a knight", nil)
	tier.Put(key, textArtifact("hero", "a brave knight"))
	tier.Flush()

	got, ok := tier.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a brave knight", got.Text)
	assert.Equal(t, artifact.KindText, got.Kind)
}

func TestDiskTierSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key := mustKey(t, "sprite", "draw a knight", nil)

	first, err := NewDiskTier(DiskConfig{Dir: dir, MaxEntries: 16})
	require.NoError(t, err)
	first.Put(key, textArtifact("hero", "a brave knight"))
	first.Close()

	second, err := NewDiskTier(DiskConfig{Dir: dir, MaxEntries: 16})
	require.NoError(t, err)
	defer second.Close()

	got, ok := second.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a brave knight", got.Text)
}

func TestDiskTierEvictionRemovesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tier, err := NewDiskTier(DiskConfig{Dir: dir, MaxEntries: 2})
	require.NoError(t, err)
	defer tier.Close()

	keys := []string{
		mustKey(t, "sprite", "one", nil),
		mustKey(t, "sprite", "two", nil),
		mustKey(t, "sprite", "three", nil),
	}
	for _, k := range keys {
		tier.Put(k, textArtifact("a", "payload"))
		tier.Flush()
	}

	assert.Equal(t, 2, tier.Len())
	assert.False(t, tier.Contains(keys[0]))

	_, err = os.Stat(filepath.Join(dir, "objects", keys[0][:2], keys[0]+".gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestCachePromotesDiskHits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key := mustKey(t, "sprite", "draw a knight", nil)

	warm, err := New(Config{Dir: dir, MemoryMaxBytes: 1 << 20, DiskMaxEntries: 16})
	require.NoError(t, err)
	warm.Put(key, textArtifact("hero", "a brave knight"))
	warm.Close()

	cold, err := New(Config{Dir: dir, MemoryMaxBytes: 1 << 20, DiskMaxEntries: 16})
	require.NoError(t, err)
	defer cold.Close()

	got, ok := cold.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a brave knight", got.Text)

	stats := cold.Stats()
	assert.Equal(t, int64(1), stats.DiskHits)

	// Promoted entry answers from memory once admitted.
	cold.Flush()
	_, ok = cold.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(1), cold.Stats().MemoryHits)
}

func TestPutIsImmediatelyVisible(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Dir: t.TempDir(), MemoryMaxBytes: 1 << 20, DiskMaxEntries: 16})
	require.NoError(t, err)
	defer c.Close()

	key := mustKey(t, "sprite", "draw a knight", nil)
	c.Put(key, textArtifact("hero", "a brave knight"))

	// No Flush between Put and Get: the write must already be readable,
	// or a repeated generation would pay for a second provider call.
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a brave knight", got.Text)
	assert.Equal(t, int64(0), c.Stats().Misses)
}

func TestCacheStatsCountMisses(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Dir: t.TempDir(), MemoryMaxBytes: 1 << 20, DiskMaxEntries: 16})
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get(mustKey(t, "sprite", "never stored", nil))
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}
