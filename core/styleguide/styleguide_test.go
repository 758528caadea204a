package styleguide

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

var testPalette = []string{
	"#1a1c2c", "#5d275d", "#b13e53", "#ef7d57",
	"#ffcd75", "#a7f070", "#38b764", "#257179",
}

func validGuide() *StyleGuide {
	return &StyleGuide{
		Palette:      append([]string(nil), testPalette...),
		SpriteWidth:  32,
		SpriteHeight: 32,
		TileSize:     16,
		Tone:         "dark fantasy",
	}
}

func TestGuideValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*StyleGuide)
		want   string
	}{
		{"valid", func(g *StyleGuide) {}, ""},
		{"too few colors", func(g *StyleGuide) { g.Palette = g.Palette[:4] }, "at least 8"},
		{"duplicates collapse", func(g *StyleGuide) {
			g.Palette = []string{"#111111", "#111111", "#111111", "#111111", "#111111", "#111111", "#111111", "#111111"}
		}, "at least 8"},
		{"bad hex", func(g *StyleGuide) { g.Palette[0] = "red" }, "not a #RRGGBB"},
		{"zero sprite size", func(g *StyleGuide) { g.SpriteWidth = 0 }, "must be positive"},
		{"zero tile size", func(g *StyleGuide) { g.TileSize = 0 }, "must be positive"},
		{"empty tone", func(g *StyleGuide) { g.Tone = "  " }, "tone is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := validGuide()
			tt.mutate(g)
			err := g.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestHashIgnoresPaletteOrder(t *testing.T) {
	t.Parallel()

	a := validGuide()
	b := validGuide()
	b.Palette[0], b.Palette[1] = b.Palette[1], b.Palette[0]

	assert.Equal(t, a.Hash(), b.Hash())

	b.Palette[0] = "#000000"
	assert.NotEqual(t, a.Hash(), b.Hash())

	c := validGuide()
	c.TileSize = 8
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestParseCleanJSON(t *testing.T) {
	t.Parallel()

	raw := `{"palette":["#1a1c2c","#5d275d","#b13e53","#ef7d57","#ffcd75","#a7f070","#38b764","#257179"],"sprite_width":32,"sprite_height":32,"tile_size":16,"tone":"dark fantasy"}`
	guide, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 32, guide.SpriteWidth)
	assert.Equal(t, "dark fantasy", guide.Tone)
}

func TestParseFencedAndProseWrapped(t *testing.T) {
	t.Parallel()

	raw := "Here is the style guide you asked for:\n```json\n" +
		`{"palette":["#1a1c2c","#5d275d","#b13e53","#ef7d57","#ffcd75","#a7f070","#38b764","#257179"],"sprite_width":16,"sprite_height":16,"tile_size":16,"tone":"cozy"}` +
		"\n```\nLet me know if you want changes."
	guide, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "cozy", guide.Tone)
}

func TestParseRepairsTrailingComma(t *testing.T) {
	t.Parallel()

	raw := `{"palette":["#1a1c2c","#5d275d","#b13e53","#ef7d57","#ffcd75","#a7f070","#38b764","#257179",],"sprite_width":16,"sprite_height":16,"tile_size":8,"tone":"bleak",}`
	guide, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 8, guide.TileSize)
}

func TestParseFailuresAreValidationClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"no json at all", "I cannot produce a style guide."},
		{"valid json, invalid guide", `{"palette":["#111111"],"sprite_width":0,"sprite_height":0,"tile_size":0,"tone":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.raw)
			require.Error(t, err)
			assert.Equal(t, errors.ClassValidation, errors.GetClass(err))
		})
	}
}

// paletteImage renders a PNG filled with the given colors in stripes.
func paletteImage(t *testing.T, w, h int, colors ...color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, colors[x%len(colors)])
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPaletteCheckerAcceptsCompliantImage(t *testing.T) {
	t.Parallel()

	guide := validGuide()
	c1, err := ParseHexColor(testPalette[0])
	require.NoError(t, err)
	c2, err := ParseHexColor(testPalette[4])
	require.NoError(t, err)

	data := paletteImage(t, 32, 32, c1, c2)
	checker := NewPaletteChecker(24, 1)
	assert.NoError(t, checker.Check(guide, data, 32, 32))
}

func TestPaletteCheckerToleratesNearMisses(t *testing.T) {
	t.Parallel()

	guide := validGuide()
	base, err := ParseHexColor(testPalette[0])
	require.NoError(t, err)
	nudged := color.RGBA{R: base.R + 5, G: base.G + 5, B: base.B + 5, A: 0xff}

	data := paletteImage(t, 16, 16, nudged)
	checker := NewPaletteChecker(24, 1)
	assert.NoError(t, checker.Check(guide, data, 16, 16))
}

func TestPaletteCheckerRejectsOffPaletteImage(t *testing.T) {
	t.Parallel()

	guide := validGuide()
	data := paletteImage(t, 16, 16, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})

	checker := NewPaletteChecker(24, 1)
	err := checker.Check(guide, data, 16, 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPaletteViolation)
	assert.Equal(t, errors.ClassValidation, errors.GetClass(err))
}

func TestPaletteCheckerRejectsWrongDimensions(t *testing.T) {
	t.Parallel()

	guide := validGuide()
	c1, err := ParseHexColor(testPalette[0])
	require.NoError(t, err)

	data := paletteImage(t, 16, 16, c1)
	checker := NewPaletteChecker(24, 1)
	err = checker.Check(guide, data, 32, 32)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDimensionViolation)
}

func TestPaletteCheckerSkipsTransparentPixels(t *testing.T) {
	t.Parallel()

	guide := validGuide()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8)) // all pixels zero alpha

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	checker := NewPaletteChecker(24, 1)
	assert.NoError(t, checker.Check(guide, buf.Bytes(), 8, 8))
}
