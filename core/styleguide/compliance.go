package styleguide

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"strconv"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// ComplianceChecker decides whether a generated image honors the style
// guide. Implementations are pluggable so a project can swap in a
// stricter or cheaper check.
type ComplianceChecker interface {
	// Check returns a ValidationFailure describing the violation, or
	// nil when the image complies. expectWidth/expectHeight of zero
	// skip the dimension check.
	Check(guide *StyleGuide, imageData []byte, expectWidth, expectHeight int) error
}

// PaletteChecker samples pixels and measures their distance to the
// nearest palette color. Image generators dither and anti-alias, so an
// exact-match check would reject everything; tolerance allows pixels
// near a palette color to pass.
type PaletteChecker struct {
	// Tolerance is the maximum Euclidean RGB distance to the nearest
	// palette color before a pixel counts as a violation.
	Tolerance float64

	// SampleStride samples every Nth pixel in both axes. 1 checks
	// every pixel.
	SampleStride int

	// MaxViolationRatio is the fraction of sampled pixels allowed to
	// miss the palette before the image fails.
	MaxViolationRatio float64
}

// NewPaletteChecker creates a checker with the given tolerance and
// stride, allowing up to 2% off-palette samples.
func NewPaletteChecker(tolerance float64, stride int) *PaletteChecker {
	if stride <= 0 {
		stride = 1
	}
	return &PaletteChecker{
		Tolerance:         tolerance,
		SampleStride:      stride,
		MaxViolationRatio: 0.02,
	}
}

// Check implements ComplianceChecker.
func (p *PaletteChecker) Check(guide *StyleGuide, imageData []byte, expectWidth, expectHeight int) error {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return errors.Wrap(errors.ClassValidation, "decode generated image", err)
	}

	bounds := img.Bounds()
	if expectWidth > 0 && expectHeight > 0 {
		if bounds.Dx() != expectWidth || bounds.Dy() != expectHeight {
			return errors.Wrap(errors.ClassValidation,
				fmt.Sprintf("image is %dx%d, style guide requires %dx%d", bounds.Dx(), bounds.Dy(), expectWidth, expectHeight),
				errors.ErrDimensionViolation)
		}
	}

	palette, err := parsePalette(guide.Palette)
	if err != nil {
		return err
	}

	var sampled, violations int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += p.SampleStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += p.SampleStride {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				continue // transparent pixels are always allowed
			}
			sampled++
			if nearestDistanceSq(palette, uint8(r>>8), uint8(g>>8), uint8(b>>8)) > p.Tolerance*p.Tolerance {
				violations++
			}
		}
	}

	if sampled == 0 {
		return nil
	}
	ratio := float64(violations) / float64(sampled)
	if ratio > p.MaxViolationRatio {
		return errors.Wrap(errors.ClassValidation,
			fmt.Sprintf("%.1f%% of sampled pixels fall outside the palette (tolerance %.0f)", ratio*100, p.Tolerance),
			errors.ErrPaletteViolation)
	}
	return nil
}

func parsePalette(hexColors []string) ([]color.RGBA, error) {
	palette := make([]color.RGBA, 0, len(hexColors))
	for _, h := range hexColors {
		c, err := ParseHexColor(h)
		if err != nil {
			return nil, err
		}
		palette = append(palette, c)
	}
	return palette, nil
}

// ParseHexColor parses a #RRGGBB string.
func ParseHexColor(s string) (color.RGBA, error) {
	if !hexColorPattern.MatchString(s) {
		return color.RGBA{}, errors.Wrap(errors.ClassValidation,
			fmt.Sprintf("%q is not a #RRGGBB hex color", s),
			errors.ErrSchemaViolation)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrap(errors.ClassValidation, "parse hex color", err)
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}

func nearestDistanceSq(palette []color.RGBA, r, g, b uint8) float64 {
	best := float64(1 << 30)
	for _, c := range palette {
		dr := float64(int(c.R) - int(r))
		dg := float64(int(c.G) - int(g))
		db := float64(int(c.B) - int(b))
		d := dr*dr + dg*dg + db*db
		if d < best {
			best = d
		}
	}
	return best
}
