package providers

import (
	"fmt"
	"sync"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// Registry holds the configured adapters and resolves which one serves
// an invocation. Resolution order is the configured default first, then
// fallbacks, filtered by capability.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	order     []string
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. The first registered adapter becomes the
// default until SetDefault overrides it.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	if r.defaultID == "" {
		r.defaultID = name
	}
	return nil
}

// SetDefault marks the named adapter as first choice.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultID = name
	return nil
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return a, nil
}

// Names returns registered adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Chain returns the adapters able to serve the capability, default
// first, then the rest in registration order.
func (r *Registry) Chain(c Capability) ([]Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []Adapter
	if def, ok := r.adapters[r.defaultID]; ok && Supports(def, c) {
		chain = append(chain, def)
	}
	for _, name := range r.order {
		if name == r.defaultID {
			continue
		}
		if a := r.adapters[name]; Supports(a, c) {
			chain = append(chain, a)
		}
	}

	if len(chain) == 0 {
		return nil, errors.New(errors.ClassFatal,
			fmt.Sprintf("no registered provider supports %q generation", c), nil)
	}
	return chain, nil
}
