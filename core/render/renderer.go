package render

import (
	"strings"
	"text/template"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// Context is the data a template renders against. Values must be plain data:
// rendering never consults clocks, counters, or anything non-deterministic.
type Context map[string]any

// Renderer executes templates from a registry.
type Renderer struct {
	registry *Registry
}

// NewRenderer creates a renderer over the given registry.
func NewRenderer(registry *Registry) *Renderer {
	return &Renderer{registry: registry}
}

// Registry exposes the underlying registry.
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Render renders template id against ctx. The whole inheritance chain's
// required fields are checked first; a missing field or unknown template is
// a caller error and is never retried.
func (r *Renderer) Render(id string, ctx Context) (string, error) {
	chain, err := r.registry.chain(id)
	if err != nil {
		return "", err
	}

	if err := checkRequired(chain, ctx); err != nil {
		return "", err
	}

	root := template.New(id).Option("missingkey=error")
	for _, t := range chain {
		if _, err := root.New(t.ID).Parse(t.Body); err != nil {
			return "", errors.New(errors.ClassTemplate, "parse "+t.ID, err)
		}
	}

	var b strings.Builder
	if err := root.ExecuteTemplate(&b, id, ctx); err != nil {
		return "", errors.New(errors.ClassTemplate, "execute "+id, err)
	}

	return b.String(), nil
}

func checkRequired(chain []*Template, ctx Context) error {
	for _, t := range chain {
		for _, field := range t.Required {
			if _, ok := ctx[field]; !ok {
				return errors.Wrap(
					errors.ClassTemplate,
					"template "+t.ID+" needs field "+field,
					errors.ErrMissingContextField,
				)
			}
		}
	}
	return nil
}
