package providers

import (
	"context"
	"sync"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
)

// MockAdapter is the test seam for everything above the provider layer.
// Responses are served from a script keyed by call order, or from a
// single canned reply.
type MockAdapter struct {
	NameValue string
	Caps      []Capability
	Model     string
	Reply     *Result
	Script    []func(*Invocation) (*Result, error)
	InvokeErr error

	mu          sync.Mutex
	calls       int
	invocations []*Invocation
}

// NewMockAdapter creates a text-capable mock that echoes the prompt.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		NameValue: name,
		Caps:      []Capability{CapabilityText, CapabilityImage, CapabilityAudio},
	}
}

func (m *MockAdapter) Name() string {
	return m.NameValue
}

func (m *MockAdapter) Capabilities() []Capability {
	return m.Caps
}

// DefaultModel implements ModelResolver.
func (m *MockAdapter) DefaultModel(Capability) string {
	return m.model()
}

func (m *MockAdapter) model() string {
	if m.Model != "" {
		return m.Model
	}
	return "mock-model"
}

func (m *MockAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	call := m.calls
	m.calls++
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()

	if m.InvokeErr != nil {
		return nil, m.InvokeErr
	}
	if call < len(m.Script) {
		return m.Script[call](inv)
	}
	if m.Reply != nil {
		return m.Reply, nil
	}

	return &Result{
		Text:     "mock:" + inv.Prompt,
		Model:    m.model(),
		Provider: m.NameValue,
		Usage:    artifact.Usage{TokensIn: 10, TokensOut: 20},
	}, nil
}

// Calls returns how many invocations the mock has served.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Invocations returns the recorded invocations in call order.
func (m *MockAdapter) Invocations() []*Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Invocation(nil), m.invocations...)
}
