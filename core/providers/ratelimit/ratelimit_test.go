package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketStartsFull(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(TokenBucketConfig{Capacity: 3, RefillRate: 1})

	for i := 0; i < 3; i++ {
		decision := tb.Check()
		assert.True(t, decision.Allowed)
		tb.Consume(1)
	}

	decision := tb.Check()
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.WaitTime, time.Duration(0))
	assert.Equal(t, "token_bucket", decision.Limiter)
}

func TestTokenBucketRefills(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillRate: 100})
	tb.Consume(1)

	require.Eventually(t, func() bool {
		return tb.Check().Allowed
	}, time.Second, 5*time.Millisecond)
}

func TestAdaptiveDecaysOn429(t *testing.T) {
	t.Parallel()

	a := NewAdaptive(AdaptiveConfig{
		InitialLimit: 100,
		DecayFactor:  0.5,
		GrowthFactor: 1.1,
		MinLimit:     10,
		MaxLimit:     200,
	})

	a.Record429(0)
	assert.InDelta(t, 50, a.Limit(), 1e-9)

	// Decay clamps at the floor.
	for i := 0; i < 10; i++ {
		a.Record429(0)
	}
	assert.InDelta(t, 10, a.Limit(), 1e-9)

	a.RecordSuccess()
	assert.InDelta(t, 11, a.Limit(), 1e-9)
}

func TestAdaptiveGrowthClampsAtMax(t *testing.T) {
	t.Parallel()

	a := NewAdaptive(AdaptiveConfig{
		InitialLimit: 190,
		DecayFactor:  0.5,
		GrowthFactor: 1.5,
		MinLimit:     10,
		MaxLimit:     200,
	})

	a.RecordSuccess()
	assert.InDelta(t, 200, a.Limit(), 1e-9)
}

func TestAdaptiveHoldsForRetryAfter(t *testing.T) {
	t.Parallel()

	a := NewAdaptive(AdaptiveConfig{
		InitialLimit: 100,
		DecayFactor:  0.5,
		GrowthFactor: 1.1,
		MinLimit:     10,
		MaxLimit:     200,
	})

	a.Record429(time.Hour)
	decision := a.Check()
	assert.False(t, decision.Allowed)
	assert.Equal(t, "adaptive_429", decision.Limiter)
	assert.Greater(t, decision.WaitTime, 59*time.Minute)
}

func TestLimiterWaitRespectsCancellation(t *testing.T) {
	t.Parallel()

	l := NewLimiter("test", Config{
		TokenBucket: TokenBucketConfig{Capacity: 1, RefillRate: 0.001},
		Adaptive:    AdaptiveConfig{InitialLimit: 100, DecayFactor: 0.5, GrowthFactor: 1.1, MinLimit: 1, MaxLimit: 200},
	})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx)) // consumes the only token

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Wait(cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterAllowsSteadyTraffic(t *testing.T) {
	t.Parallel()

	l := NewLimiter("test", DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	assert.Equal(t, "test", l.Provider())
}
