// Package styleguide owns the shared visual contract for a generation
// run: the palette, sprite and tile dimensions, and tone that every
// later asset prompt embeds. The guide is produced once per run at low
// temperature and content-hashed, so any change to it is visible to the
// invalidation machinery.
package styleguide

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	MinPaletteSize = 8
	MaxPaletteSize = 32
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// StyleGuide is the parsed style contract.
type StyleGuide struct {
	Palette      []string `json:"palette"`
	SpriteWidth  int      `json:"sprite_width"`
	SpriteHeight int      `json:"sprite_height"`
	TileSize     int      `json:"tile_size"`
	Tone         string   `json:"tone"`
}

// Violations returns human-readable problems with the guide, empty when
// valid. The messages are written to be embedded verbatim in a repair
// re-prompt.
func (g *StyleGuide) Violations() []string {
	var violations []string

	distinct := make(map[string]struct{}, len(g.Palette))
	for _, c := range g.Palette {
		if !hexColorPattern.MatchString(c) {
			violations = append(violations, fmt.Sprintf("palette entry %q is not a #RRGGBB hex color", c))
			continue
		}
		distinct[strings.ToLower(c)] = struct{}{}
	}
	if len(distinct) < MinPaletteSize {
		violations = append(violations, fmt.Sprintf("palette has %d distinct colors, need at least %d", len(distinct), MinPaletteSize))
	}
	if len(distinct) > MaxPaletteSize {
		violations = append(violations, fmt.Sprintf("palette has %d distinct colors, at most %d allowed", len(distinct), MaxPaletteSize))
	}

	if g.SpriteWidth <= 0 || g.SpriteHeight <= 0 {
		violations = append(violations, fmt.Sprintf("sprite dimensions %dx%d must be positive", g.SpriteWidth, g.SpriteHeight))
	}
	if g.TileSize <= 0 {
		violations = append(violations, fmt.Sprintf("tile_size %d must be positive", g.TileSize))
	}
	if strings.TrimSpace(g.Tone) == "" {
		violations = append(violations, "tone is empty")
	}

	return violations
}

// Validate returns an error listing every violation, or nil.
func (g *StyleGuide) Validate() error {
	violations := g.Violations()
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("style guide invalid: %s", strings.Join(violations, "; "))
}

// Hash returns a content hash over the normalized guide. Palette order
// does not affect the hash; the set of colors does.
func (g *StyleGuide) Hash() string {
	normalized := make([]string, len(g.Palette))
	for i, c := range g.Palette {
		normalized[i] = strings.ToLower(c)
	}
	sort.Strings(normalized)

	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\x00%dx%d\x00%d\x00%s",
		strings.Join(normalized, ","),
		g.SpriteWidth, g.SpriteHeight,
		g.TileSize,
		strings.TrimSpace(g.Tone))
	return hex.EncodeToString(h.Sum(nil))
}
