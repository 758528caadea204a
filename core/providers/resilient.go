package providers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/pixelsmith-ai/pixelsmith/core/errors"
	"github.com/pixelsmith-ai/pixelsmith/core/providers/ratelimit"
)

// ResilientAdapter wraps another adapter with the full outbound-call
// discipline: rate limiting, a per-call deadline, class-driven retry,
// and cost accounting. The orchestrator only ever talks to resilient
// adapters.
type ResilientAdapter struct {
	inner    Adapter
	limiter  *ratelimit.Limiter
	executor *errors.Executor
	ledger   *CostLedger
	timeout  time.Duration
	logger   *slog.Logger
}

// ResilientConfig configures the wrapper.
type ResilientConfig struct {
	Limiter  *ratelimit.Limiter
	Executor *errors.Executor
	Ledger   *CostLedger

	// CallTimeout bounds each individual attempt, not the whole retry
	// sequence.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// NewResilientAdapter wraps inner. Nil config fields select defaults.
func NewResilientAdapter(inner Adapter, cfg ResilientConfig) *ResilientAdapter {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewLimiter(inner.Name(), ratelimit.DefaultConfig())
	}
	if cfg.Executor == nil {
		cfg.Executor = errors.NewExecutor(nil, nil)
	}
	if cfg.Ledger == nil {
		cfg.Ledger = NewCostLedger()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ResilientAdapter{
		inner:    inner,
		limiter:  cfg.Limiter,
		executor: cfg.Executor,
		ledger:   cfg.Ledger,
		timeout:  cfg.CallTimeout,
		logger:   cfg.Logger,
	}
}

// Name returns the wrapped adapter's identifier.
func (r *ResilientAdapter) Name() string {
	return r.inner.Name()
}

// Capabilities returns the wrapped adapter's capabilities.
func (r *ResilientAdapter) Capabilities() []Capability {
	return r.inner.Capabilities()
}

// Ledger exposes the cost ledger for run reports.
func (r *ResilientAdapter) Ledger() *CostLedger {
	return r.ledger
}

// DefaultModel implements ModelResolver by delegating to the wrapped
// adapter.
func (r *ResilientAdapter) DefaultModel(c Capability) string {
	return EffectiveModel(r.inner, c, "")
}

// Invoke runs the call under the retry executor. Each attempt pays the
// rate limiter and gets its own deadline. Cancelling ctx stops new
// attempts at the limiter and between retries; an attempt already sent
// to the provider runs to its deadline so the billed response is not
// thrown away.
func (r *ResilientAdapter) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	var result *Result

	err := r.executor.Execute(ctx, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		res, err := r.inner.Invoke(attemptCtx, inv)
		if err != nil {
			r.feedback(err)
			r.logger.Warn("provider call failed",
				"provider", r.inner.Name(),
				"capability", inv.Capability,
				"elapsed", time.Since(start),
				"error", err)
			return err
		}

		r.limiter.RecordSuccess()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Usage.CostUSD = EstimateCost(result.Model, inv.Capability, result.Usage, audioSeconds(inv))
	r.ledger.Add(r.inner.Name(), result.Usage.CostUSD)
	return result, nil
}

// feedback routes rate-limit responses into the adaptive limiter.
func (r *ResilientAdapter) feedback(err error) {
	if errors.GetClass(err) == errors.ClassRateLimit {
		r.limiter.Record429(retryAfterOf(err))
	}
}

func retryAfterOf(err error) time.Duration {
	var ce *errors.ClassedError
	if stderrors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// audioSeconds estimates spoken duration for TTS pricing at a typical
// narration pace of 150 words per minute.
func audioSeconds(inv *Invocation) float64 {
	if inv.Capability != CapabilityAudio {
		return 0
	}
	words := 1
	for _, c := range inv.Prompt {
		if c == ' ' || c == '\n' {
			words++
		}
	}
	return float64(words) / 150 * 60
}
