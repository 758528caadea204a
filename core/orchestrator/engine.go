package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/cache"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
	"github.com/pixelsmith-ai/pixelsmith/core/lineage"
	"github.com/pixelsmith-ai/pixelsmith/core/providers"
	"github.com/pixelsmith-ai/pixelsmith/core/render"
	"github.com/pixelsmith-ai/pixelsmith/core/variation"
)

// maxFixAttempts bounds the repair loop for artifacts that fail a
// compliance check. The first attempt plus two corrections.
const maxFixAttempts = 3

// responsePreview caps how much of a binary-free response summary is
// stored on a lineage node for inspection.
const responsePreview = 2048

// Request describes one generation the engine should perform.
type Request struct {
	Phase    string
	Label    string
	ParentID string
	Level    lineage.Level

	TemplateID string
	Context    render.Context

	Capability  providers.Capability
	Model       string
	Temperature *float64
	Width       int
	Height      int
	Voice       string

	// Kind and Name describe the artifact the call produces.
	Kind artifact.Kind
	Name string

	// Check validates the artifact before it is accepted. A violation
	// triggers a corrective re-prompt, up to maxFixAttempts total.
	Check func(a *artifact.Artifact) error
}

// GenResult is the outcome of one Generate call.
type GenResult struct {
	Artifact *artifact.Artifact
	CacheKey string
	NodeID   string
	Cached   bool
}

// GenError ties a generation failure to the lineage node that recorded
// it, so failure reports can point back into the lineage tree.
type GenError struct {
	NodeID string
	Err    error
}

func (e *GenError) Error() string { return e.Err.Error() }

func (e *GenError) Unwrap() error { return e.Err }

// FailureNodeID returns the lineage node id carried by a generation
// error, or "" for failures raised before a node was recorded.
func FailureNodeID(err error) string {
	var ge *GenError
	if stderrors.As(err, &ge) {
		return ge.NodeID
	}
	return ""
}

// Engine runs single generations: render the prompt, consult the cache,
// call the provider chain, validate, and record everything in lineage.
type Engine struct {
	renderer *render.Renderer
	cache    *cache.Cache
	tracker  *lineage.Tracker
	adapters map[providers.Capability]providers.Adapter
	logger   *slog.Logger
}

// NewEngine wires an engine. Adapters maps each capability to the
// (already resilient) adapter that serves it.
func NewEngine(renderer *render.Renderer, c *cache.Cache, tracker *lineage.Tracker,
	adapters map[providers.Capability]providers.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		renderer: renderer,
		cache:    c,
		tracker:  tracker,
		adapters: adapters,
		logger:   logger,
	}
}

// Tracker exposes the lineage tracker for inspection.
func (e *Engine) Tracker() *lineage.Tracker { return e.tracker }

// Generate performs one generation. Every call records a lineage node,
// whether the response came from a provider or the cache.
func (e *Engine) Generate(ctx context.Context, req *Request) (*GenResult, error) {
	adapter, ok := e.adapters[req.Capability]
	if !ok {
		return nil, errors.New(errors.ClassFatal,
			fmt.Sprintf("no adapter registered for capability %q", req.Capability), nil)
	}

	prompt, err := e.renderer.Render(req.TemplateID, req.Context)
	if err != nil {
		return nil, err
	}

	templateID := req.TemplateID
	parentID := req.ParentID

	// Resolve the model the adapter will actually run so the cache key
	// changes when the configured model does.
	model := providers.EffectiveModel(adapter, req.Capability, req.Model)

	for attempt := 1; attempt <= maxFixAttempts; attempt++ {
		node := lineage.NewNode(parentID, req.Level, req.Phase, req.Label, prompt)
		if err := e.tracker.Record(node); err != nil {
			return nil, err
		}

		inv := e.invocation(req, prompt, model)
		key, err := cache.Key(templateID, prompt, inv.CacheParams())
		if err != nil {
			e.tracker.Fail(node.ID, err.Error())
			return nil, &GenError{NodeID: node.ID, Err: err}
		}

		if art, hit := e.cache.Get(key); hit {
			return e.acceptCached(node, key, art)
		}

		res, err := adapter.Invoke(ctx, inv)
		if err != nil {
			e.tracker.Fail(node.ID, err.Error())
			return nil, &GenError{NodeID: node.ID, Err: errors.Wrap(errors.GetClass(err),
				fmt.Sprintf("%s/%s generation failed", req.Phase, req.Label), err)}
		}

		art := e.buildArtifact(req, node.ID, res)
		e.tracker.SetProvenance(node.ID, res.Provider, res.Model)

		violation := e.checkArtifact(req, art)
		if violation == nil {
			e.cache.Put(key, art)
			e.tracker.Complete(node.ID, preview(art),
				res.Usage.TokensIn, res.Usage.TokensOut, res.Usage.CostUSD)
			return &GenResult{Artifact: art, CacheKey: key, NodeID: node.ID}, nil
		}

		e.tracker.Fail(node.ID, violation.Error())
		if attempt == maxFixAttempts {
			return nil, &GenError{NodeID: node.ID, Err: errors.Wrap(errors.ClassValidation,
				fmt.Sprintf("%s/%s still non-compliant after %d attempts", req.Phase, req.Label, maxFixAttempts),
				violation)}
		}
		if err := ctx.Err(); err != nil {
			return nil, &GenError{NodeID: node.ID, Err: errors.Wrap(errors.ClassFatal,
				"run cancelled during corrective re-prompt", err)}
		}

		e.logger.Warn("artifact rejected, re-prompting",
			"phase", req.Phase, "label", req.Label,
			"attempt", attempt, "violation", violation)

		fixed, err := e.renderer.Render(render.TemplateFixRetry, render.Context{
			"previous_prompt": prompt,
			"violation":       violation.Error(),
		})
		if err != nil {
			return nil, err
		}
		prompt = fixed
		templateID = render.TemplateFixRetry
		parentID = node.ID
	}

	// Unreachable: the loop always returns.
	return nil, errors.New(errors.ClassFatal, "generation loop exited without a result", nil)
}

// DeriveVariation produces a deterministic local variant of a generated
// image. No provider call happens; the lineage node says so.
func (e *Engine) DeriveVariation(phase string, base *GenResult, spec *variation.Spec) (*GenResult, error) {
	node := lineage.NewNode(base.NodeID, lineage.LevelGeneration, phase, spec.Name,
		fmt.Sprintf("variation %s of %s", spec.Kind, base.Artifact.Name))
	node.ProviderCall = false
	if err := e.tracker.Record(node); err != nil {
		return nil, err
	}

	derived, err := variation.Derive(base.Artifact, spec)
	if err != nil {
		e.tracker.Fail(node.ID, err.Error())
		return nil, &GenError{NodeID: node.ID, Err: err}
	}
	derived.NodeID = node.ID

	// Keyed off the base response key so the variant is stable across
	// runs without hashing the image payload twice.
	key, err := cache.Key("variation:"+string(spec.Kind), base.CacheKey, map[string]any{
		"name":     spec.Name,
		"offset_x": spec.OffsetX,
		"offset_y": spec.OffsetY,
		"width":    spec.Width,
		"height":   spec.Height,
		"palette":  strings.Join(spec.TargetPalette, ","),
	})
	if err != nil {
		e.tracker.Fail(node.ID, err.Error())
		return nil, &GenError{NodeID: node.ID, Err: err}
	}

	e.cache.Put(key, derived)
	e.tracker.Complete(node.ID, preview(derived), 0, 0, 0)
	return &GenResult{Artifact: derived, CacheKey: key, NodeID: node.ID}, nil
}

// Lookup fetches a previously generated artifact by cache key, used when
// resuming a run from its checkpointed artifact references.
func (e *Engine) Lookup(key string) (*artifact.Artifact, bool) {
	return e.cache.Get(key)
}

func (e *Engine) invocation(req *Request, prompt, model string) *providers.Invocation {
	return &providers.Invocation{
		Capability:  req.Capability,
		TemplateID:  req.TemplateID,
		Prompt:      prompt,
		Model:       model,
		Temperature: req.Temperature,
		Width:       req.Width,
		Height:      req.Height,
		Voice:       req.Voice,
	}
}

func (e *Engine) buildArtifact(req *Request, nodeID string, res *providers.Result) *artifact.Artifact {
	return &artifact.Artifact{
		Kind:     req.Kind,
		Name:     req.Name,
		MIME:     res.MIME,
		Data:     res.Data,
		Text:     res.Text,
		NodeID:   nodeID,
		Model:    res.Model,
		Provider: res.Provider,
		Usage:    res.Usage,
	}
}

func (e *Engine) checkArtifact(req *Request, art *artifact.Artifact) error {
	if err := art.Validate(); err != nil {
		return errors.Wrap(errors.ClassValidation, "malformed artifact", err)
	}
	if req.Check != nil {
		return req.Check(art)
	}
	return nil
}

func (e *Engine) acceptCached(node *lineage.PromptNode, key string, art *artifact.Artifact) (*GenResult, error) {
	clone := *art
	clone.NodeID = node.ID
	e.tracker.MarkCached(node.ID)
	e.tracker.SetProvenance(node.ID, art.Provider, art.Model)
	e.tracker.Complete(node.ID, preview(&clone), 0, 0, 0)
	return &GenResult{Artifact: &clone, CacheKey: key, NodeID: node.ID, Cached: true}, nil
}

func preview(a *artifact.Artifact) string {
	if a.Text != "" {
		if len(a.Text) > responsePreview {
			return a.Text[:responsePreview]
		}
		return a.Text
	}
	return fmt.Sprintf("[%s %s, %d bytes]", a.Kind, a.MIME, len(a.Data))
}
