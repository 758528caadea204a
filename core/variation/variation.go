// Package variation derives extra assets from one AI-generated base
// image with purely local transforms. Recolors, mirrored facings, and
// shifted walk-cycle frames come out pixel-consistent with the base in
// a way independently prompted images never are, and they cost nothing.
package variation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
	"github.com/pixelsmith-ai/pixelsmith/core/styleguide"
)

// Kind names a deterministic transform.
type Kind string

const (
	// KindPaletteRemap maps every pixel to the nearest color of a
	// target palette. Elemental recolors: one slime base, fire and ice
	// variants.
	KindPaletteRemap Kind = "palette_remap"

	// KindMirror flips horizontally for opposite facings.
	KindMirror Kind = "mirror"

	// KindFrameOffset shifts content with wraparound to stamp out
	// walk-cycle frames.
	KindFrameOffset Kind = "frame_offset"

	// KindResize scales with nearest-neighbor sampling, which keeps
	// pixel-art edges hard. Providers render large; sprites are small.
	KindResize Kind = "resize"
)

// Spec describes one derivation.
type Spec struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`

	// TargetPalette applies to palette_remap.
	TargetPalette []string `json:"target_palette,omitempty" yaml:"target_palette,omitempty"`

	// OffsetX and OffsetY apply to frame_offset.
	OffsetX int `json:"offset_x,omitempty" yaml:"offset_x,omitempty"`
	OffsetY int `json:"offset_y,omitempty" yaml:"offset_y,omitempty"`

	// Width and Height apply to resize.
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`
}

// Validate checks the spec names a known transform with usable params.
func (s *Spec) Validate() error {
	switch s.Kind {
	case KindPaletteRemap:
		if len(s.TargetPalette) == 0 {
			return errors.New(errors.ClassValidation, "palette_remap needs a target palette", nil)
		}
	case KindMirror:
	case KindFrameOffset:
		if s.OffsetX == 0 && s.OffsetY == 0 {
			return errors.New(errors.ClassValidation, "frame_offset with zero offset is the identity", nil)
		}
	case KindResize:
		if s.Width <= 0 || s.Height <= 0 {
			return errors.New(errors.ClassValidation, "resize needs positive dimensions", nil)
		}
	default:
		return errors.New(errors.ClassValidation, fmt.Sprintf("unknown variation kind %q", s.Kind), nil)
	}
	if s.Name == "" {
		return errors.New(errors.ClassValidation, "variation needs a name", nil)
	}
	return nil
}

// Derive applies the spec to the base image artifact. The result is a
// new image artifact; the base is never modified.
func Derive(base *artifact.Artifact, spec *Spec) (*artifact.Artifact, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if base.Kind != artifact.KindImage {
		return nil, errors.New(errors.ClassValidation,
			fmt.Sprintf("cannot derive a variation from a %s artifact", base.Kind), nil)
	}

	src, err := decodeRGBA(base.Data)
	if err != nil {
		return nil, err
	}

	var out *image.RGBA
	switch spec.Kind {
	case KindPaletteRemap:
		out, err = remapPalette(src, spec.TargetPalette)
	case KindMirror:
		out = mirror(src)
	case KindFrameOffset:
		out = frameOffset(src, spec.OffsetX, spec.OffsetY)
	case KindResize:
		out = resize(src, spec.Width, spec.Height)
	}
	if err != nil {
		return nil, err
	}

	data, err := encodePNG(out)
	if err != nil {
		return nil, err
	}

	return &artifact.Artifact{
		Kind:      artifact.KindImage,
		Name:      spec.Name,
		MIME:      "image/png",
		Data:      data,
		StyleHash: base.StyleHash,
		Model:     base.Model,
		Provider:  base.Provider,
	}, nil
}

func decodeRGBA(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(errors.ClassValidation, "decode base image", err)
	}

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	xdraw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, xdraw.Src)
	return rgba, nil
}

func encodePNG(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.New(errors.ClassValidation, "encode derived image", err)
	}
	return buf.Bytes(), nil
}

// remapPalette maps every opaque pixel to its nearest target color,
// preserving alpha.
func remapPalette(src *image.RGBA, targetHex []string) (*image.RGBA, error) {
	target := make([]color.RGBA, 0, len(targetHex))
	for _, h := range targetHex {
		c, err := styleguide.ParseHexColor(h)
		if err != nil {
			return nil, err
		}
		target = append(target, c)
	}

	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := src.RGBAAt(x, y)
			if c.A == 0 {
				out.SetRGBA(x, y, c)
				continue
			}
			mapped := nearest(target, c)
			mapped.A = c.A
			out.SetRGBA(x, y, mapped)
		}
	}
	return out, nil
}

func nearest(palette []color.RGBA, c color.RGBA) color.RGBA {
	best := palette[0]
	bestDist := 1 << 30
	for _, p := range palette {
		dr := int(p.R) - int(c.R)
		dg := int(p.G) - int(c.G)
		db := int(p.B) - int(c.B)
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			bestDist = d
			best = p
		}
	}
	return best
}

func mirror(src *image.RGBA) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetRGBA(bounds.Max.X-1-(x-bounds.Min.X), y, src.RGBAAt(x, y))
		}
	}
	return out
}

// frameOffset shifts with wraparound so repeated offsets tile into a
// cycle.
func frameOffset(src *image.RGBA, dx, dy int) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tx := ((x+dx)%w + w) % w
			ty := ((y+dy)%h + h) % h
			out.SetRGBA(bounds.Min.X+tx, bounds.Min.Y+ty, src.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}

func resize(src *image.RGBA, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return out
}
