package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
	"github.com/pixelsmith-ai/pixelsmith/core/lineage"
	"github.com/pixelsmith-ai/pixelsmith/core/providers"
	"github.com/pixelsmith-ai/pixelsmith/core/render"
	"github.com/pixelsmith-ai/pixelsmith/core/styleguide"
	"github.com/pixelsmith-ai/pixelsmith/core/variation"
)

// Stock phase names.
const (
	PhaseStyleGuide = "style_guide"
	PhaseAssetPlan  = "asset_plan"
	PhaseSprites    = "sprites"
	PhaseTiles      = "tiles"
	PhaseVariations = "variations"
	PhaseNarrative  = "narrative"
	PhaseDialogue   = "dialogue"
	PhaseAudio      = "audio"
)

// Context value keys shared between phases.
const (
	valueStyle     = "style"
	valueStyleHash = "style_hash"
	valuePlan      = "asset_plan"
	valueBackstory = "backstory"
)

// PlanEntry is one sprite the asset-plan phase decided the game needs.
type PlanEntry struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
}

var planNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PipelineConfig tunes the stock pipeline.
type PipelineConfig struct {
	// StyleTemperature keeps style-guide generation reproducible.
	StyleTemperature float64

	// Checker validates generated images against the style guide.
	Checker styleguide.ComplianceChecker

	// TileSubjects overrides the default terrain tile set.
	TileSubjects []string

	// MaxDialogueCharacters caps how many plan entries get dialogue.
	MaxDialogueCharacters int

	// MaxVoiceLinesPerCharacter caps audio synthesis per character.
	MaxVoiceLinesPerCharacter int
}

func (c *PipelineConfig) defaults() {
	if c.Checker == nil {
		c.Checker = styleguide.NewPaletteChecker(24, 4)
	}
	if len(c.TileSubjects) == 0 {
		c.TileSubjects = []string{"grass", "water", "stone wall"}
	}
	if c.MaxDialogueCharacters <= 0 {
		c.MaxDialogueCharacters = 3
	}
	if c.MaxVoiceLinesPerCharacter <= 0 {
		c.MaxVoiceLinesPerCharacter = 2
	}
}

// BuildPipeline registers the stock game-generation phases. The art
// branch is style_guide -> asset_plan -> sprites/tiles -> variations;
// the story branch is narrative -> dialogue -> audio. The two branches
// only share the style guide, so they run in parallel.
func BuildPipeline(o *Orchestrator, cfg PipelineConfig) error {
	cfg.defaults()

	phases := []*Phase{
		{Name: PhaseStyleGuide, Run: styleGuidePhase(cfg.StyleTemperature)},
		{Name: PhaseAssetPlan, DependsOn: []string{PhaseStyleGuide}, Run: assetPlanPhase()},
		{Name: PhaseSprites, DependsOn: []string{PhaseStyleGuide, PhaseAssetPlan}, Run: spritesPhase(cfg.Checker)},
		{Name: PhaseTiles, DependsOn: []string{PhaseStyleGuide}, Run: tilesPhase(cfg.Checker, cfg.TileSubjects)},
		{Name: PhaseVariations, DependsOn: []string{PhaseSprites}, Run: variationsPhase()},
		{Name: PhaseNarrative, DependsOn: []string{PhaseStyleGuide}, Run: narrativePhase()},
		{Name: PhaseDialogue, DependsOn: []string{PhaseNarrative, PhaseAssetPlan}, Run: dialoguePhase(cfg.MaxDialogueCharacters)},
		{Name: PhaseAudio, DependsOn: []string{PhaseDialogue}, Run: audioPhase(cfg.MaxVoiceLinesPerCharacter)},
	}
	for _, p := range phases {
		if err := o.AddPhase(p); err != nil {
			return err
		}
	}
	return nil
}

func styleGuidePhase(temperature float64) func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		var guide *styleguide.StyleGuide

		res, err := env.Engine.Generate(ctx, &Request{
			Phase:       PhaseStyleGuide,
			Label:       "style_guide",
			Level:       lineage.LevelMetaprompt,
			TemplateID:  render.TemplateStyleGuide,
			Capability:  providers.CapabilityText,
			Temperature: &temperature,
			Kind:        artifact.KindJSON,
			Name:        "style_guide",
			Context: render.Context{
				"concept":     env.Concept.Summary(),
				"palette_min": styleguide.MinPaletteSize,
				"palette_max": styleguide.MaxPaletteSize,
				"hints":       hintText(env.Concept.Hints),
			},
			Check: func(a *artifact.Artifact) error {
				parsed, err := styleguide.Parse(a.Text)
				if err != nil {
					return err
				}
				guide = parsed
				return nil
			},
		})
		if err != nil {
			return nil, err
		}

		// A cache hit skips the Check callback, so parse again.
		if guide == nil {
			if guide, err = styleguide.Parse(res.Artifact.Text); err != nil {
				return nil, err
			}
		}

		hash := guide.Hash()
		res.Artifact.StyleHash = hash
		return &PhaseResult{
			Values: map[string]any{
				valueStyle:     guide,
				valueStyleHash: hash,
			},
			Artifacts: map[string]*GenResult{"style_guide": res},
		}, nil
	}
}

func assetPlanPhase() func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		guide, err := loadGuide(env.View)
		if err != nil {
			return nil, err
		}

		styleRes, _ := env.View.Artifact("style_guide")
		parentID := ""
		if styleRes != nil {
			parentID = styleRes.NodeID
		}

		var plan []PlanEntry
		res, err := env.Engine.Generate(ctx, &Request{
			Phase:      PhaseAssetPlan,
			Label:      "asset_plan",
			ParentID:   parentID,
			Level:      lineage.LevelDerived,
			TemplateID: render.TemplateAssetPlan,
			Capability: providers.CapabilityText,
			Kind:       artifact.KindJSON,
			Name:       "asset_plan",
			Context: render.Context{
				"concept": env.Concept.Summary(),
				"tone":    guide.Tone,
			},
			Check: func(a *artifact.Artifact) error {
				parsed, err := parsePlan(a.Text)
				if err != nil {
					return err
				}
				plan = parsed
				return nil
			},
		})
		if err != nil {
			return nil, err
		}

		if plan == nil {
			if plan, err = parsePlan(res.Artifact.Text); err != nil {
				return nil, err
			}
		}

		return &PhaseResult{
			Values:    map[string]any{valuePlan: plan},
			Artifacts: map[string]*GenResult{"asset_plan": res},
		}, nil
	}
}

func spritesPhase(checker styleguide.ComplianceChecker) func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		guide, err := loadGuide(env.View)
		if err != nil {
			return nil, err
		}
		plan, err := loadPlan(env.View)
		if err != nil {
			return nil, err
		}

		planRes, _ := env.View.Artifact("asset_plan")
		tasks := make([]Task, len(plan))
		for i, entry := range plan {
			tasks[i] = spriteTask(env, guide, checker, planRes, entry)
		}

		results := env.FanOut(ctx, tasks)
		artifacts := make(map[string]*GenResult)
		var failures []*FailureReport
		var firstErr error
		for i, r := range results {
			if r.Err != nil {
				// The player sprite is the one asset the game cannot
				// ship without.
				if i == 0 {
					return nil, errors.Wrap(errors.GetClass(r.Err),
						"player sprite generation failed", r.Err)
				}
				if firstErr == nil {
					firstErr = r.Err
				}
				failures = append(failures, taskFailure(r.Label, r.Err))
				continue
			}
			artifacts["sprite/"+plan[i].Name] = r.Result
		}

		if len(artifacts) == 0 && firstErr != nil {
			return nil, firstErr
		}
		return &PhaseResult{Artifacts: artifacts, Failures: failures}, nil
	}
}

func spriteTask(env *PhaseEnv, guide *styleguide.StyleGuide, checker styleguide.ComplianceChecker,
	parent *GenResult, entry PlanEntry) Task {
	parentID := ""
	if parent != nil {
		parentID = parent.NodeID
	}
	return Task{
		Label: "sprite/" + entry.Name,
		Run: func(ctx context.Context) (*GenResult, error) {
			return env.Engine.Generate(ctx, &Request{
				Phase:      PhaseSprites,
				Label:      "sprite/" + entry.Name,
				ParentID:   parentID,
				Level:      lineage.LevelGeneration,
				TemplateID: render.TemplateSprite,
				Capability: providers.CapabilityImage,
				Width:      guide.SpriteWidth,
				Height:     guide.SpriteHeight,
				Kind:       artifact.KindImage,
				Name:       "sprite/" + entry.Name,
				Context:    briefContext(guide, render.Context{"subject": entry.Subject}),
				Check: func(a *artifact.Artifact) error {
					err := checker.Check(guide, a.Data, guide.SpriteWidth, guide.SpriteHeight)
					if err == nil {
						a.StyleHash = guide.Hash()
					}
					return err
				},
			})
		},
	}
}

func tilesPhase(checker styleguide.ComplianceChecker, subjects []string) func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		guide, err := loadGuide(env.View)
		if err != nil {
			return nil, err
		}

		styleRes, _ := env.View.Artifact("style_guide")
		parentID := ""
		if styleRes != nil {
			parentID = styleRes.NodeID
		}

		tasks := make([]Task, len(subjects))
		for i, subject := range subjects {
			name := tileName(subject)
			subject := subject
			tasks[i] = Task{
				Label: "tile/" + name,
				Run: func(ctx context.Context) (*GenResult, error) {
					return env.Engine.Generate(ctx, &Request{
						Phase:      PhaseTiles,
						Label:      "tile/" + name,
						ParentID:   parentID,
						Level:      lineage.LevelGeneration,
						TemplateID: render.TemplateTile,
						Capability: providers.CapabilityImage,
						Width:      guide.TileSize,
						Height:     guide.TileSize,
						Kind:       artifact.KindImage,
						Name:       "tile/" + name,
						Context: briefContext(guide, render.Context{
							"subject":   subject,
							"tile_size": guide.TileSize,
						}),
						Check: func(a *artifact.Artifact) error {
							err := checker.Check(guide, a.Data, guide.TileSize, guide.TileSize)
							if err == nil {
								a.StyleHash = guide.Hash()
							}
							return err
						},
					})
				},
			}
		}

		results := env.FanOut(ctx, tasks)
		artifacts := make(map[string]*GenResult)
		var failures []*FailureReport
		var firstErr error
		for i, r := range results {
			if r.Err != nil {
				if firstErr == nil {
					firstErr = r.Err
				}
				failures = append(failures, taskFailure(r.Label, r.Err))
				continue
			}
			artifacts["tile/"+tileName(subjects[i])] = r.Result
		}
		if len(artifacts) == 0 && firstErr != nil {
			return nil, firstErr
		}
		return &PhaseResult{Artifacts: artifacts, Failures: failures}, nil
	}
}

// defaultVariations is the variant set derived for every sprite: a
// horizontal flip plus shifted animation frames.
var defaultVariations = []variation.Spec{
	{Kind: variation.KindMirror, Name: "flipped"},
	{Kind: variation.KindFrameOffset, Name: "walk_1", OffsetX: 1},
	{Kind: variation.KindFrameOffset, Name: "walk_2", OffsetX: 2},
	{Kind: variation.KindFrameOffset, Name: "bob", OffsetY: 1},
}

func variationsPhase() func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		artifacts := make(map[string]*GenResult)
		var failures []*FailureReport
		var firstErr error

		for _, name := range env.View.ArtifactNames() {
			if !strings.HasPrefix(name, "sprite/") {
				continue
			}
			base, _ := env.View.Artifact(name)
			for _, spec := range defaultVariations {
				spec := spec
				spec.Name = strings.TrimPrefix(name, "sprite/") + "_" + spec.Name
				res, err := env.Engine.DeriveVariation(PhaseVariations, base, &spec)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					failures = append(failures, taskFailure(name+"/"+spec.Name, err))
					continue
				}
				artifacts[name+"/"+spec.Name] = res
			}
		}

		if len(artifacts) == 0 && firstErr != nil {
			return nil, firstErr
		}
		return &PhaseResult{Artifacts: artifacts, Failures: failures}, nil
	}
}

func narrativePhase() func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		guide, err := loadGuide(env.View)
		if err != nil {
			return nil, err
		}

		res, err := env.Engine.Generate(ctx, &Request{
			Phase:      PhaseNarrative,
			Label:      "narrative",
			Level:      lineage.LevelMetaprompt,
			TemplateID: render.TemplateNarrative,
			Capability: providers.CapabilityText,
			Kind:       artifact.KindText,
			Name:       "narrative",
			Context: render.Context{
				"concept": env.Concept.Summary(),
				"tone":    guide.Tone,
			},
		})
		if err != nil {
			return nil, err
		}

		return &PhaseResult{
			Values:    map[string]any{valueBackstory: res.Artifact.Text},
			Artifacts: map[string]*GenResult{"narrative": res},
		}, nil
	}
}

func dialoguePhase(maxCharacters int) func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		guide, err := loadGuide(env.View)
		if err != nil {
			return nil, err
		}
		plan, err := loadPlan(env.View)
		if err != nil {
			return nil, err
		}
		backstory, ok := env.View.StringValue(valueBackstory)
		if !ok {
			return nil, errors.New(errors.ClassFatal, "narrative phase left no backstory", nil)
		}

		narrativeRes, _ := env.View.Artifact("narrative")
		parentID := ""
		if narrativeRes != nil {
			parentID = narrativeRes.NodeID
		}

		characters := plan
		if len(characters) > maxCharacters {
			characters = characters[:maxCharacters]
		}

		tasks := make([]Task, len(characters))
		for i, entry := range characters {
			entry := entry
			tasks[i] = Task{
				Label: "dialogue/" + entry.Name,
				Run: func(ctx context.Context) (*GenResult, error) {
					return env.Engine.Generate(ctx, &Request{
						Phase:      PhaseDialogue,
						Label:      "dialogue/" + entry.Name,
						ParentID:   parentID,
						Level:      lineage.LevelDerived,
						TemplateID: render.TemplateDialogue,
						Capability: providers.CapabilityText,
						Kind:       artifact.KindText,
						Name:       "dialogue/" + entry.Name,
						Context: render.Context{
							"concept":   env.Concept.Summary(),
							"tone":      guide.Tone,
							"backstory": backstory,
							"character": entry.Name,
						},
					})
				},
			}
		}

		results := env.FanOut(ctx, tasks)
		artifacts := make(map[string]*GenResult)
		var failures []*FailureReport
		var firstErr error
		for i, r := range results {
			if r.Err != nil {
				if firstErr == nil {
					firstErr = r.Err
				}
				failures = append(failures, taskFailure(r.Label, r.Err))
				continue
			}
			artifacts["dialogue/"+characters[i].Name] = r.Result
		}
		if len(artifacts) == 0 && firstErr != nil {
			return nil, firstErr
		}
		return &PhaseResult{Artifacts: artifacts, Failures: failures}, nil
	}
}

func audioPhase(linesPerCharacter int) func(context.Context, *PhaseEnv) (*PhaseResult, error) {
	return func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error) {
		type voiceJob struct {
			character string
			index     int
			line      string
			parentID  string
		}

		var jobs []voiceJob
		for _, name := range env.View.ArtifactNames() {
			if !strings.HasPrefix(name, "dialogue/") {
				continue
			}
			res, _ := env.View.Artifact(name)
			character := strings.TrimPrefix(name, "dialogue/")
			for i, line := range dialogueLines(res.Artifact.Text) {
				if i >= linesPerCharacter {
					break
				}
				jobs = append(jobs, voiceJob{character: character, index: i, line: line, parentID: res.NodeID})
			}
		}

		tasks := make([]Task, len(jobs))
		for i, job := range jobs {
			job := job
			label := fmt.Sprintf("voice/%s_%d", job.character, job.index)
			tasks[i] = Task{
				Label: label,
				Run: func(ctx context.Context) (*GenResult, error) {
					return env.Engine.Generate(ctx, &Request{
						Phase:      PhaseAudio,
						Label:      label,
						ParentID:   job.parentID,
						Level:      lineage.LevelGeneration,
						TemplateID: render.TemplateVoiceLine,
						Capability: providers.CapabilityAudio,
						Kind:       artifact.KindAudio,
						Name:       label,
						Context:    render.Context{"line": job.line},
					})
				},
			}
		}

		results := env.FanOut(ctx, tasks)
		artifacts := make(map[string]*GenResult)
		var failures []*FailureReport
		var firstErr error
		for i, r := range results {
			if r.Err != nil {
				if firstErr == nil {
					firstErr = r.Err
				}
				failures = append(failures, taskFailure(r.Label, r.Err))
				continue
			}
			artifacts[tasks[i].Label] = r.Result
		}
		if len(artifacts) == 0 && firstErr != nil {
			return nil, firstErr
		}
		return &PhaseResult{Artifacts: artifacts, Failures: failures}, nil
	}
}

// =============================================================================
// Helpers
// =============================================================================

// taskFailure records a tolerated per-task failure. The orchestrator
// fills in Phase, ClassName, and Time when the phase completes.
func taskFailure(label string, err error) *FailureReport {
	return &FailureReport{
		Task:    label,
		NodeID:  FailureNodeID(err),
		Class:   errors.GetClass(err),
		Message: err.Error(),
	}
}

func loadGuide(view *ContextView) (*styleguide.StyleGuide, error) {
	var guide styleguide.StyleGuide
	if err := view.DecodeValue(valueStyle, &guide); err != nil {
		return nil, err
	}
	return &guide, nil
}

func loadPlan(view *ContextView) ([]PlanEntry, error) {
	var plan []PlanEntry
	if err := view.DecodeValue(valuePlan, &plan); err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, errors.New(errors.ClassFatal, "asset plan is empty", nil)
	}
	return plan, nil
}

// briefContext fills the style_brief fields every art template extends.
func briefContext(guide *styleguide.StyleGuide, extra render.Context) render.Context {
	ctx := render.Context{
		"palette_csv":   strings.Join(guide.Palette, ", "),
		"sprite_width":  guide.SpriteWidth,
		"sprite_height": guide.SpriteHeight,
		"tone":          guide.Tone,
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// parsePlan decodes the asset-plan response, repairing slightly broken
// JSON the same way the style-guide parser does.
func parsePlan(raw string) ([]PlanEntry, error) {
	text := extractArray(raw)

	var plan []PlanEntry
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, errors.New(errors.ClassValidation,
				"asset plan is not a JSON array", err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, errors.New(errors.ClassValidation,
				"asset plan is not a JSON array", err)
		}
	}

	if len(plan) == 0 {
		return nil, errors.New(errors.ClassValidation, "asset plan lists no sprites", nil)
	}
	seen := make(map[string]struct{}, len(plan))
	for i, entry := range plan {
		if !planNamePattern.MatchString(entry.Name) {
			return nil, errors.New(errors.ClassValidation,
				fmt.Sprintf("asset plan entry %d has invalid name %q, use snake_case", i, entry.Name), nil)
		}
		if strings.TrimSpace(entry.Subject) == "" {
			return nil, errors.New(errors.ClassValidation,
				fmt.Sprintf("asset plan entry %q has an empty subject", entry.Name), nil)
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, errors.New(errors.ClassValidation,
				fmt.Sprintf("asset plan repeats the name %q", entry.Name), nil)
		}
		seen[entry.Name] = struct{}{}
	}
	return plan, nil
}

func extractArray(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func tileName(subject string) string {
	name := strings.ToLower(strings.TrimSpace(subject))
	return strings.ReplaceAll(name, " ", "_")
}

func dialogueLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func hintText(hints map[string]string) string {
	if len(hints) == 0 {
		return ""
	}
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+hints[k])
	}
	return strings.Join(parts, "; ")
}
