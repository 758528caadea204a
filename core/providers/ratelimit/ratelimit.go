// Package ratelimit throttles outbound provider calls. Each provider
// gets its own limiter combining a token bucket for steady-state pacing
// with an adaptive limit that backs off on 429 responses and recovers
// on success.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed  bool
	WaitTime time.Duration
	Reason   string
	Limiter  string
}

// TokenBucketConfig configures the token bucket limiter.
type TokenBucketConfig struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// AdaptiveConfig configures the adaptive 429 limiter.
type AdaptiveConfig struct {
	InitialLimit float64
	DecayFactor  float64 // multiply limit by this on 429 (< 1)
	GrowthFactor float64 // multiply limit by this on success (> 1)
	MinLimit     float64
	MaxLimit     float64
}

// Config combines both limiter configs.
type Config struct {
	TokenBucket TokenBucketConfig
	Adaptive    AdaptiveConfig
}

// DefaultConfig returns pacing suitable for the paid API tiers the
// default models run on.
func DefaultConfig() Config {
	return Config{
		TokenBucket: TokenBucketConfig{
			Capacity:   10,
			RefillRate: 2,
		},
		Adaptive: AdaptiveConfig{
			InitialLimit: 60,
			DecayFactor:  0.5,
			GrowthFactor: 1.05,
			MinLimit:     2,
			MaxLimit:     240,
		},
	}
}

// TokenBucket implements the classic token bucket algorithm.
type TokenBucket struct {
	config TokenBucketConfig

	tokens     float64
	lastRefill time.Time

	mu sync.Mutex
}

// NewTokenBucket creates a limiter starting at full capacity.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	return &TokenBucket{
		config:     config,
		tokens:     config.Capacity,
		lastRefill: time.Now(),
	}
}

// Check refills the bucket and reports whether one request may proceed.
func (tb *TokenBucket) Check() Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= 1.0 {
		return Decision{Allowed: true, Limiter: "token_bucket"}
	}

	needed := 1.0 - tb.tokens
	return Decision{
		Allowed:  false,
		WaitTime: time.Duration(needed / tb.config.RefillRate * float64(time.Second)),
		Reason:   "insufficient tokens",
		Limiter:  "token_bucket",
	}
}

// Consume deducts n tokens after refilling, clamping at zero.
func (tb *TokenBucket) Consume(n float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	tb.tokens -= n
	if tb.tokens < 0 {
		tb.tokens = 0
	}
}

// refillLocked adds elapsed.Seconds() * RefillRate tokens, capped at
// capacity. Must be called with the mutex held.
func (tb *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += elapsed.Seconds() * tb.config.RefillRate
	if tb.tokens > tb.config.Capacity {
		tb.tokens = tb.config.Capacity
	}
}

// Adaptive tracks an effective requests-per-minute limit that shrinks
// on 429s and grows back on sustained success.
type Adaptive struct {
	config AdaptiveConfig

	limit      float64
	holdUntil  time.Time
	windowReqs int
	windowFrom time.Time

	mu sync.Mutex
}

// NewAdaptive creates an adaptive limiter at the initial limit.
func NewAdaptive(config AdaptiveConfig) *Adaptive {
	return &Adaptive{
		config:     config,
		limit:      config.InitialLimit,
		windowFrom: time.Now(),
	}
}

// Check reports whether a request fits under the current effective
// requests-per-minute limit.
func (a *Adaptive) Check() Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Before(a.holdUntil) {
		return Decision{
			Allowed:  false,
			WaitTime: a.holdUntil.Sub(now),
			Reason:   "holding after 429",
			Limiter:  "adaptive_429",
		}
	}

	if now.Sub(a.windowFrom) >= time.Minute {
		a.windowReqs = 0
		a.windowFrom = now
	}

	if float64(a.windowReqs) < a.limit {
		return Decision{Allowed: true, Limiter: "adaptive_429"}
	}

	return Decision{
		Allowed:  false,
		WaitTime: a.windowFrom.Add(time.Minute).Sub(now),
		Reason:   "effective limit reached",
		Limiter:  "adaptive_429",
	}
}

// Record counts a request against the current window.
func (a *Adaptive) Record() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowReqs++
}

// Record429 shrinks the limit and honors the provider's Retry-After
// when given.
func (a *Adaptive) Record429(retryAfter time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.limit *= a.config.DecayFactor
	if a.limit < a.config.MinLimit {
		a.limit = a.config.MinLimit
	}
	if retryAfter > 0 {
		a.holdUntil = time.Now().Add(retryAfter)
	}
}

// RecordSuccess grows the limit back toward the maximum.
func (a *Adaptive) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.limit *= a.config.GrowthFactor
	if a.limit > a.config.MaxLimit {
		a.limit = a.config.MaxLimit
	}
}

// Limit returns the current effective requests-per-minute limit.
func (a *Adaptive) Limit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

// Limiter combines both strategies for one provider.
type Limiter struct {
	provider string
	bucket   *TokenBucket
	adaptive *Adaptive
}

// NewLimiter creates a combined limiter for the named provider.
func NewLimiter(provider string, config Config) *Limiter {
	return &Limiter{
		provider: provider,
		bucket:   NewTokenBucket(config.TokenBucket),
		adaptive: NewAdaptive(config.Adaptive),
	}
}

// Provider returns the provider name.
func (l *Limiter) Provider() string {
	return l.provider
}

// check returns the most restrictive decision across strategies.
func (l *Limiter) check() Decision {
	decisions := []Decision{l.bucket.Check(), l.adaptive.Check()}

	result := decisions[0]
	for _, d := range decisions[1:] {
		if !d.Allowed && (result.Allowed || d.WaitTime > result.WaitTime) {
			result = d
		}
	}
	return result
}

// Wait blocks until a request may proceed, then records it. Returns
// early with the context's error on cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		decision := l.check()
		if decision.Allowed {
			l.bucket.Consume(1)
			l.adaptive.Record()
			return nil
		}

		wait := decision.WaitTime
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Record429 feeds a rate-limit response into the adaptive strategy.
func (l *Limiter) Record429(retryAfter time.Duration) {
	l.adaptive.Record429(retryAfter)
}

// RecordSuccess feeds a successful response into the adaptive strategy.
func (l *Limiter) RecordSuccess() {
	l.adaptive.RecordSuccess()
}
