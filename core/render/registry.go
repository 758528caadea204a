// Package render turns named templates and a context object into concrete
// prompt strings. Rendering is pure: identical template and context always
// produce byte-identical output.
package render

import (
	"sort"
	"sync"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// Template is one named prompt template.
type Template struct {
	// ID is the unique template name.
	ID string

	// Extends names a parent template whose body becomes available to this
	// template as {{template "<parent-id>" .}}. Inheritance is transitive.
	Extends string

	// Body is text/template source.
	Body string

	// Required lists context fields that must be present. Checked before
	// execution so the caller gets a field name, not a template error.
	Required []string
}

// Registry holds templates and resolves inheritance chains.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds or replaces a template.
func (r *Registry) Register(t *Template) {
	r.mu.Lock()
	r.templates[t.ID] = t
	r.mu.Unlock()
}

// Get returns a template by id.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return nil, errors.Wrap(errors.ClassTemplate, "lookup "+id, errors.ErrTemplateNotFound)
	}
	return t, nil
}

// IDs returns all registered template ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// chain resolves the transitive Extends chain for id, parent-first.
// A cycle or missing ancestor is a template error.
func (r *Registry) chain(id string) ([]*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Template
	seen := make(map[string]bool)

	for current := id; current != ""; {
		if seen[current] {
			return nil, errors.New(errors.ClassTemplate, "template inheritance cycle at "+current, nil)
		}
		seen[current] = true

		t, ok := r.templates[current]
		if !ok {
			return nil, errors.Wrap(errors.ClassTemplate, "resolve "+current, errors.ErrTemplateNotFound)
		}
		out = append([]*Template{t}, out...)
		current = t.Extends
	}

	return out, nil
}
