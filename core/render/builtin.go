package render

// Built-in template ids.
const (
	TemplateStyleGuide = "style_guide"
	TemplateStyleBrief = "style_brief"
	TemplateSprite     = "sprite"
	TemplateTile       = "tile"
	TemplateNarrative  = "narrative"
	TemplateDialogue   = "dialogue"
	TemplateVoiceLine  = "voice_line"
	TemplateAssetPlan  = "asset_plan"
	TemplateFixRetry   = "fix_retry"
)

// NewBuiltinRegistry returns a registry loaded with the stock pipeline
// templates. Everything downstream of the style-guide phase extends
// style_brief so palette and dimension constraints are stated once.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.Register(&Template{
		ID:       TemplateStyleGuide,
		Required: []string{"concept", "palette_min", "palette_max", "hints"},
		Body: `You are the art director for a small retro game studio.

{{.concept}}
Produce a style guide for this game as a single JSON object with exactly these fields:
- "palette": an array of {{.palette_min}} to {{.palette_max}} hex color strings (e.g. "#1a1c2c"), all distinct
- "sprite_width": positive integer, pixels
- "sprite_height": positive integer, pixels
- "tile_size": positive integer, pixels
- "tone": one paragraph describing mood, line weight, and shading rules
{{if .hints}}
Constraints from the designer: {{.hints}}
{{end}}
Respond with the JSON object only. No prose, no code fences.`,
	})

	r.Register(&Template{
		ID:       TemplateStyleBrief,
		Required: []string{"palette_csv", "sprite_width", "sprite_height", "tone"},
		Body: `Art constraints (follow exactly):
- Use only these colors: {{.palette_csv}}
- Sprite canvas: {{.sprite_width}}x{{.sprite_height}} pixels
- Tone: {{.tone}}`,
	})

	r.Register(&Template{
		ID:       TemplateSprite,
		Extends:  TemplateStyleBrief,
		Required: []string{"subject"},
		Body: `{{template "style_brief" .}}

Draw a pixel-art sprite: {{.subject}}.
Single character centered on a transparent background, no outline glow, no anti-aliasing outside the palette.`,
	})

	r.Register(&Template{
		ID:       TemplateTile,
		Extends:  TemplateStyleBrief,
		Required: []string{"subject", "tile_size"},
		Body: `{{template "style_brief" .}}

Draw a seamless {{.tile_size}}x{{.tile_size}} pixel-art terrain tile: {{.subject}}.
The tile must wrap on both axes with no visible seam.`,
	})

	r.Register(&Template{
		ID:       TemplateNarrative,
		Required: []string{"concept", "tone"},
		Body: `You are the narrative designer for a retro game.

{{.concept}}
Tone: {{.tone}}

Write the game's backstory and setting in 3 short paragraphs, then a one-line
goal statement for the player. Plain text.`,
	})

	r.Register(&Template{
		ID:       TemplateDialogue,
		Required: []string{"concept", "tone", "backstory", "character"},
		Body: `You write terse in-game dialogue for a retro game.

{{.concept}}
Tone: {{.tone}}
Backstory: {{.backstory}}

Write 4 short lines of dialogue for the character "{{.character}}".
One line per row, no quotes, no speaker prefix, each under 60 characters.`,
	})

	r.Register(&Template{
		ID:       TemplateVoiceLine,
		Required: []string{"line"},
		Body:     `{{.line}}`,
	})

	r.Register(&Template{
		ID:       TemplateAssetPlan,
		Required: []string{"concept", "tone"},
		Body: `You plan pixel-art asset lists for retro games.

{{.concept}}
Tone: {{.tone}}

List the sprites this game needs as a JSON array of objects with fields
"name" (snake_case identifier) and "subject" (one-line drawing instruction).
Include the player character, 2-4 enemies, and any items named in the
features. Respond with the JSON array only.`,
	})

	r.Register(&Template{
		ID:       TemplateFixRetry,
		Required: []string{"previous_prompt", "violation"},
		Body: `{{.previous_prompt}}

Your previous answer was rejected: {{.violation}}
Correct this exactly and answer again in the same format.`,
	})

	return r
}
