// Package providers adapts the vendor AI SDKs behind a single Adapter
// interface so the orchestrator never sees vendor types. Adapters are
// capability-scoped: a text call against an adapter that only does
// images is a programming error caught before any network traffic.
package providers

import (
	"context"
	"fmt"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// Capability names one kind of generation an adapter can perform.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
	CapabilityAudio Capability = "audio"
)

// Invocation is one provider request. Params carries vendor-neutral
// knobs; adapters ignore params they cannot map.
type Invocation struct {
	Capability Capability
	TemplateID string
	Prompt     string

	// Model overrides the adapter's configured model when set.
	Model string

	// Temperature applies to text generation. Nil leaves the vendor
	// default in place.
	Temperature *float64

	MaxTokens int

	// Width and Height apply to image generation.
	Width  int
	Height int

	// Voice applies to audio generation.
	Voice string

	Params map[string]any
}

// Validate checks invariants shared by all adapters.
func (inv *Invocation) Validate() error {
	if inv.Prompt == "" {
		return errors.New(errors.ClassValidation, "invocation has an empty prompt", nil)
	}
	if inv.Temperature != nil && (*inv.Temperature < 0 || *inv.Temperature > 1) {
		return errors.New(errors.ClassValidation,
			fmt.Sprintf("temperature %.2f out of range [0, 1]", *inv.Temperature), nil)
	}
	switch inv.Capability {
	case CapabilityText, CapabilityImage, CapabilityAudio:
		return nil
	default:
		return errors.New(errors.ClassValidation, fmt.Sprintf("unknown capability %q", inv.Capability), nil)
	}
}

// CacheParams returns the parameter set that participates in the cache
// key. Everything that changes provider output must appear here.
func (inv *Invocation) CacheParams() map[string]any {
	params := map[string]any{
		"capability": string(inv.Capability),
		"model":      inv.Model,
	}
	if inv.Temperature != nil {
		params["temperature"] = *inv.Temperature
	}
	if inv.MaxTokens > 0 {
		params["max_tokens"] = inv.MaxTokens
	}
	if inv.Width > 0 {
		params["width"] = inv.Width
		params["height"] = inv.Height
	}
	if inv.Voice != "" {
		params["voice"] = inv.Voice
	}
	for k, v := range inv.Params {
		params[k] = v
	}
	return params
}

// Result is one provider response, already reduced to the fields the
// pipeline cares about.
type Result struct {
	Text     string
	Data     []byte
	MIME     string
	Model    string
	Provider string
	Usage    artifact.Usage
}

// Adapter is one configured vendor client.
type Adapter interface {
	Name() string
	Capabilities() []Capability
	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// ModelResolver is implemented by adapters that can report which model
// an invocation will run on before the call is made. The engine folds
// the resolved model into the cache key, so switching the configured
// model produces a clean miss instead of a stale hit.
type ModelResolver interface {
	DefaultModel(c Capability) string
}

// EffectiveModel resolves the model an adapter will use for c: an
// explicit override wins, otherwise the adapter's configured default.
func EffectiveModel(a Adapter, c Capability, override string) string {
	if override != "" {
		return override
	}
	if r, ok := a.(ModelResolver); ok {
		return r.DefaultModel(c)
	}
	return ""
}

// Supports reports whether the adapter advertises the capability.
func Supports(a Adapter, c Capability) bool {
	for _, have := range a.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}
