package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

func floatPtr(f float64) *float64 { return &f }

func TestInvocationValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inv     Invocation
		wantErr bool
	}{
		{"valid text", Invocation{Capability: CapabilityText, Prompt: "p"}, false},
		{"valid with temperature", Invocation{Capability: CapabilityText, Prompt: "p", Temperature: floatPtr(0.1)}, false},
		{"empty prompt", Invocation{Capability: CapabilityText}, true},
		{"temperature too high", Invocation{Capability: CapabilityText, Prompt: "p", Temperature: floatPtr(1.5)}, true},
		{"temperature negative", Invocation{Capability: CapabilityText, Prompt: "p", Temperature: floatPtr(-0.1)}, true},
		{"unknown capability", Invocation{Capability: "video", Prompt: "p"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.inv.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ClassValidation, errors.GetClass(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheParamsCoverOutputKnobs(t *testing.T) {
	t.Parallel()

	inv := &Invocation{
		Capability:  CapabilityImage,
		Prompt:      "p",
		Model:       "gpt-image-1",
		Temperature: floatPtr(0.3),
		Width:       32,
		Height:      48,
		Params:      map[string]any{"seed": 7},
	}

	params := inv.CacheParams()
	assert.Equal(t, "image", params["capability"])
	assert.Equal(t, 0.3, params["temperature"])
	assert.Equal(t, 32, params["width"])
	assert.Equal(t, 7, params["seed"])
}

func TestRegistryChainOrder(t *testing.T) {
	t.Parallel()

	textOnly := NewMockAdapter("text-only")
	textOnly.Caps = []Capability{CapabilityText}
	full := NewMockAdapter("full")

	r := NewRegistry()
	require.NoError(t, r.Register(textOnly))
	require.NoError(t, r.Register(full))
	require.NoError(t, r.SetDefault("full"))

	chain, err := r.Chain(CapabilityText)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "full", chain[0].Name())
	assert.Equal(t, "text-only", chain[1].Name())

	imageChain, err := r.Chain(CapabilityImage)
	require.NoError(t, err)
	require.Len(t, imageChain, 1)
	assert.Equal(t, "full", imageChain[0].Name())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewMockAdapter("a")))
	assert.Error(t, r.Register(NewMockAdapter("a")))
	assert.Error(t, r.SetDefault("missing"))
}

func TestRegistryChainNoCapableProvider(t *testing.T) {
	t.Parallel()

	textOnly := NewMockAdapter("text-only")
	textOnly.Caps = []Capability{CapabilityText}

	r := NewRegistry()
	require.NoError(t, r.Register(textOnly))

	_, err := r.Chain(CapabilityAudio)
	require.Error(t, err)
	assert.Equal(t, errors.ClassFatal, errors.GetClass(err))
}

func TestFallbackChainAdvancesOnTransient(t *testing.T) {
	t.Parallel()

	failing := NewMockAdapter("primary")
	failing.InvokeErr = errors.ErrTimeout
	healthy := NewMockAdapter("secondary")

	chain, err := NewFallbackChain(nil, failing, healthy)
	require.NoError(t, err)

	result, err := chain.Invoke(context.Background(), &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", result.Provider)
	assert.Equal(t, "primary+secondary", chain.Name())
}

func TestFallbackChainStopsOnFatal(t *testing.T) {
	t.Parallel()

	failing := NewMockAdapter("primary")
	failing.InvokeErr = errors.ErrUnauthorized
	healthy := NewMockAdapter("secondary")

	chain, err := NewFallbackChain(nil, failing, healthy)
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 0, healthy.Calls())
}

func TestFallbackChainAllFail(t *testing.T) {
	t.Parallel()

	a := NewMockAdapter("a")
	a.InvokeErr = errors.ErrTimeout
	b := NewMockAdapter("b")
	b.InvokeErr = errors.ErrConnectionReset

	chain, err := NewFallbackChain(nil, a, b)
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, errors.ClassTransient, errors.GetClass(err))
}

func TestResilientAdapterRetriesTransient(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter("flaky")
	mock.Script = []func(*Invocation) (*Result, error){
		func(*Invocation) (*Result, error) { return nil, errors.ErrTimeout },
		func(*Invocation) (*Result, error) { return nil, errors.ErrConnectionReset },
		func(inv *Invocation) (*Result, error) {
			return &Result{Text: "ok", Model: "gpt-4.1-mini", Provider: "flaky",
				Usage: artifact.Usage{TokensIn: 1000, TokensOut: 500}}, nil
		},
	}

	ra := NewResilientAdapter(mock, ResilientConfig{CallTimeout: time.Second})
	result, err := ra.Invoke(context.Background(), &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 3, mock.Calls())
	assert.Greater(t, result.Usage.CostUSD, 0.0)
	assert.Equal(t, int64(1), ra.Ledger().Calls())
}

func TestResilientAdapterGivesUpOnFatal(t *testing.T) {
	t.Parallel()

	mock := NewMockAdapter("broken")
	mock.InvokeErr = errors.ErrUnauthorized

	ra := NewResilientAdapter(mock, ResilientConfig{CallTimeout: time.Second})
	_, err := ra.Invoke(context.Background(), &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, errors.ClassFatal, errors.GetClass(err))
}

func TestResilientAdapterStopsRetryingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := NewMockAdapter("flaky")
	mock.Script = []func(*Invocation) (*Result, error){
		func(*Invocation) (*Result, error) {
			cancel()
			return nil, errors.ErrTimeout
		},
	}

	ra := NewResilientAdapter(mock, ResilientConfig{CallTimeout: time.Second})
	_, err := ra.Invoke(ctx, &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, errors.ClassTransient, errors.GetClass(err))
	assert.Equal(t, 1, mock.Calls(), "a retry attempt started after cancellation")
}

// midCallCancelAdapter cancels the run while its own call is in flight,
// then reports whether that call saw the cancellation.
type midCallCancelAdapter struct {
	cancel    context.CancelFunc
	sawCancel bool
}

func (a *midCallCancelAdapter) Name() string { return "mid-call" }

func (a *midCallCancelAdapter) Capabilities() []Capability {
	return []Capability{CapabilityText}
}

func (a *midCallCancelAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	a.cancel()
	select {
	case <-ctx.Done():
		a.sawCancel = true
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return &Result{Text: "ok", Model: "mock-model", Provider: "mid-call"}, nil
}

func TestResilientAdapterFinishesInFlightCallAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := &midCallCancelAdapter{cancel: cancel}
	ra := NewResilientAdapter(inner, ResilientConfig{CallTimeout: time.Second})

	result, err := ra.Invoke(ctx, &Invocation{Capability: CapabilityText, Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.False(t, inner.sawCancel, "in-flight provider call was cut off")
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		model      string
		capability Capability
		usage      artifact.Usage
		seconds    float64
		want       float64
	}{
		{"text tokens", "gpt-4.1-mini", CapabilityText, artifact.Usage{TokensIn: 1_000_000, TokensOut: 1_000_000}, 0, 2.00},
		{"image flat", "gpt-image-1", CapabilityImage, artifact.Usage{}, 0, 0.042},
		{"audio per minute", "gpt-4o-mini-tts", CapabilityAudio, artifact.Usage{}, 120, 0.03},
		{"unknown model", "nonexistent", CapabilityText, artifact.Usage{TokensIn: 1000}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EstimateCost(tt.model, tt.capability, tt.usage, tt.seconds)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
