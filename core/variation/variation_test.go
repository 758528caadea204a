package variation

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

// baseArtifact builds a 4x2 image: top row red, bottom row green, with
// the rightmost column blue.
func baseArtifact(t *testing.T) *artifact.Artifact {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.SetRGBA(x, 0, red)
		img.SetRGBA(x, 1, green)
	}
	img.SetRGBA(3, 0, blue)
	img.SetRGBA(3, 1, blue)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return &artifact.Artifact{
		Kind:      artifact.KindImage,
		Name:      "base",
		MIME:      "image/png",
		Data:      buf.Bytes(),
		StyleHash: "abc123",
	}
}

func decode(t *testing.T, a *artifact.Artifact) *image.RGBA {
	t.Helper()
	img, err := decodeRGBA(a.Data)
	require.NoError(t, err)
	return img
}

func TestSpecValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"mirror ok", Spec{Kind: KindMirror, Name: "m"}, false},
		{"remap ok", Spec{Kind: KindPaletteRemap, Name: "r", TargetPalette: []string{"#ff0000"}}, false},
		{"remap without palette", Spec{Kind: KindPaletteRemap, Name: "r"}, true},
		{"offset identity", Spec{Kind: KindFrameOffset, Name: "o"}, true},
		{"resize without dims", Spec{Kind: KindResize, Name: "s"}, true},
		{"unknown kind", Spec{Kind: "rotate", Name: "x"}, true},
		{"missing name", Spec{Kind: KindMirror}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ClassValidation, errors.GetClass(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveMirror(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	out, err := Derive(base, &Spec{Kind: KindMirror, Name: "base_flipped"})
	require.NoError(t, err)

	assert.Equal(t, "base_flipped", out.Name)
	assert.Equal(t, "abc123", out.StyleHash)

	img := decode(t, out)
	// Blue column moves from x=3 to x=0.
	assert.Equal(t, blue, img.RGBAAt(0, 0))
	assert.Equal(t, red, img.RGBAAt(1, 0))
	assert.Equal(t, green, img.RGBAAt(1, 1))
}

func TestDeriveMirrorTwiceIsIdentity(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	once, err := Derive(base, &Spec{Kind: KindMirror, Name: "m1"})
	require.NoError(t, err)
	twice, err := Derive(once, &Spec{Kind: KindMirror, Name: "m2"})
	require.NoError(t, err)

	assert.Equal(t, decode(t, base).Pix, decode(t, twice).Pix)
}

func TestDerivePaletteRemap(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	out, err := Derive(base, &Spec{
		Kind:          KindPaletteRemap,
		Name:          "base_ice",
		TargetPalette: []string{"#0000ff", "#00ffff"},
	})
	require.NoError(t, err)

	img := decode(t, out)
	// Red maps to pure blue (nearest of the two target colors).
	assert.Equal(t, color.RGBA{B: 0xff, A: 0xff}, img.RGBAAt(0, 0))
	// Green maps to cyan.
	assert.Equal(t, color.RGBA{G: 0xff, B: 0xff, A: 0xff}, img.RGBAAt(0, 1))
}

func TestDeriveFrameOffsetWrapsAround(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	out, err := Derive(base, &Spec{Kind: KindFrameOffset, Name: "frame2", OffsetX: 1})
	require.NoError(t, err)

	img := decode(t, out)
	// The blue column at x=3 wraps to x=0.
	assert.Equal(t, blue, img.RGBAAt(0, 0))
	assert.Equal(t, red, img.RGBAAt(1, 0))

	// A full cycle of offsets restores the base.
	cycled := out
	for i := 0; i < 3; i++ {
		cycled, err = Derive(cycled, &Spec{Kind: KindFrameOffset, Name: "f", OffsetX: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, decode(t, base).Pix, decode(t, cycled).Pix)
}

func TestDeriveResize(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	out, err := Derive(base, &Spec{Kind: KindResize, Name: "small", Width: 2, Height: 1})
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	base := baseArtifact(t)
	spec := &Spec{Kind: KindPaletteRemap, Name: "v", TargetPalette: []string{"#123456", "#654321"}}

	first, err := Derive(base, spec)
	require.NoError(t, err)
	second, err := Derive(base, spec)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestDeriveRejectsNonImage(t *testing.T) {
	t.Parallel()

	text := &artifact.Artifact{Kind: artifact.KindText, Name: "t", Text: "hello"}
	_, err := Derive(text, &Spec{Kind: KindMirror, Name: "m"})
	require.Error(t, err)
	assert.Equal(t, errors.ClassValidation, errors.GetClass(err))
}
