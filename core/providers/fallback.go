package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
)

// FallbackChain tries adapters in order, moving to the next when the
// current one fails with a transient or rate-limit class after its own
// retries are spent. Fatal and validation failures stop the chain:
// another vendor will not fix a bad request.
type FallbackChain struct {
	adapters []Adapter
	logger   *slog.Logger
}

// NewFallbackChain builds a chain over the given adapters.
func NewFallbackChain(logger *slog.Logger, adapters ...Adapter) (*FallbackChain, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("fallback chain needs at least one adapter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackChain{adapters: adapters, logger: logger}, nil
}

// Name identifies the chain by its members.
func (f *FallbackChain) Name() string {
	names := make([]string, len(f.adapters))
	for i, a := range f.adapters {
		names[i] = a.Name()
	}
	return strings.Join(names, "+")
}

// Capabilities returns the primary adapter's capabilities; members of a
// chain are expected to be capability-equivalent.
func (f *FallbackChain) Capabilities() []Capability {
	return f.adapters[0].Capabilities()
}

// DefaultModel implements ModelResolver: the primary adapter's model,
// since that is what a successful call uses unless a fallback fires.
func (f *FallbackChain) DefaultModel(c Capability) string {
	return EffectiveModel(f.adapters[0], c, "")
}

// Invoke walks the chain.
func (f *FallbackChain) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	var lastErr error

	for i, adapter := range f.adapters {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := adapter.Invoke(ctx, inv)
		if err == nil {
			return result, nil
		}
		lastErr = err

		class := errors.GetClass(err)
		if class != errors.ClassTransient && class != errors.ClassRateLimit {
			return nil, err
		}
		if i < len(f.adapters)-1 {
			f.logger.Warn("falling back to next provider",
				"failed", adapter.Name(),
				"next", f.adapters[i+1].Name(),
				"class", class,
				"error", err)
		}
	}

	return nil, errors.Wrap(errors.GetClass(lastErr), "all providers in chain failed", lastErr)
}
