// Package concept defines the immutable user input a generation run starts from.
package concept

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenerationConcept is the user's game idea. It is created once at pipeline
// start and never mutated; every prompt in the run derives from it.
type GenerationConcept struct {
	Name        string   `yaml:"name" json:"name"`
	Genre       string   `yaml:"genre" json:"genre"`
	Description string   `yaml:"description" json:"description"`
	Features    []string `yaml:"features" json:"features"`

	// Hints are optional structured nudges for individual phases,
	// e.g. "palette: warm earth tones" or "sprite_size: 32".
	Hints map[string]string `yaml:"hints,omitempty" json:"hints,omitempty"`
}

// Load reads a concept file (yaml) and validates it.
func Load(path string) (*GenerationConcept, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading concept file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a concept document.
func Parse(data []byte) (*GenerationConcept, error) {
	var c GenerationConcept
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing concept: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the minimum viable concept.
func (c *GenerationConcept) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("concept: name is required")
	}
	if strings.TrimSpace(c.Genre) == "" {
		return fmt.Errorf("concept: genre is required")
	}
	return nil
}

// Summary renders the concept as the single block of text shared by every
// prompt template. Field order is fixed so rendering stays deterministic.
func (c *GenerationConcept) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game: %s\nGenre: %s\n", c.Name, c.Genre)
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	if len(c.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(c.Features, ", "))
	}
	return b.String()
}
