package concept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	doc := []byte(`
name: Test Quest
genre: RPG
description: A tiny retro RPG about cartography.
features:
  - overworld
  - turn-based combat
hints:
  palette: warm earth tones
`)

	c, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "Test Quest", c.Name)
	assert.Equal(t, "RPG", c.Genre)
	assert.Len(t, c.Features, 2)
	assert.Equal(t, "warm earth tones", c.Hints["palette"])
}

func TestParseRejectsIncomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "genre: RPG"},
		{"missing genre", "name: Test Quest"},
		{"blank name", "name: '  '\ngenre: RPG"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestSummaryIsDeterministic(t *testing.T) {
	t.Parallel()

	c := &GenerationConcept{
		Name:     "Test Quest",
		Genre:    "RPG",
		Features: []string{"overworld", "combat"},
	}

	first := c.Summary()
	for range 10 {
		assert.Equal(t, first, c.Summary())
	}
	assert.Contains(t, first, "Game: Test Quest")
	assert.Contains(t, first, "Features: overworld, combat")
}
