package render

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

func spriteContext() Context {
	return Context{
		"palette_csv":   "#1a1c2c, #5d275d, #b13e53",
		"sprite_width":  16,
		"sprite_height": 16,
		"tone":          "moody dusk lighting",
		"subject":       "a skeleton archer",
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	first, err := r.Render(TemplateSprite, spriteContext())
	require.NoError(t, err)

	for range 20 {
		again, err := r.Render(TemplateSprite, spriteContext())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderInheritsParentFragment(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	out, err := r.Render(TemplateSprite, spriteContext())
	require.NoError(t, err)

	assert.Contains(t, out, "Use only these colors: #1a1c2c, #5d275d, #b13e53")
	assert.Contains(t, out, "Sprite canvas: 16x16 pixels")
	assert.Contains(t, out, "a skeleton archer")
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	_, err := r.Render("no_such_template", Context{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTemplateNotFound))
	assert.Equal(t, errors.ClassTemplate, errors.GetClass(err))
}

func TestRenderMissingContextField(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	ctx := spriteContext()
	delete(ctx, "subject")

	_, err := r.Render(TemplateSprite, ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingContextField))
	assert.Contains(t, err.Error(), "subject")
}

func TestRenderChecksParentRequirements(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	// Parent style_brief needs tone; dropping it must fail even though the
	// child template itself does not reference it directly.
	ctx := spriteContext()
	delete(ctx, "tone")

	_, err := r.Render(TemplateSprite, ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tone")
}

func TestInheritanceCycleDetected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&Template{ID: "a", Extends: "b", Body: "A"})
	reg.Register(&Template{ID: "b", Extends: "a", Body: "B"})

	_, err := NewRenderer(reg).Render("a", Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFixRetryWrapsPreviousPrompt(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewBuiltinRegistry())

	out, err := r.Render(TemplateFixRetry, Context{
		"previous_prompt": "draw a slime",
		"violation":       "palette had 4 entries, need at least 8",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "draw a slime")
	assert.Contains(t, out, "need at least 8")
}
