package errors

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy defines retry behavior for one error class.
type RetryPolicy struct {
	// MaxAttempts is the number of retries after the first attempt
	// (0 means no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// UseRetryAfter indicates whether to honor a provider Retry-After delay.
	UseRetryAfter bool `yaml:"use_retry_after"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultRetryPolicies returns the retry policy per error class. Timeouts get
// a shorter ramp than rate limits: a deadline overrun usually means transient
// network trouble, not quota pressure.
func DefaultRetryPolicies() map[ErrorClass]*RetryPolicy {
	return map[ErrorClass]*RetryPolicy{
		ClassTransient: {
			MaxAttempts:   5,
			InitialDelay:  250 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			JitterPercent: 0.1,
		},
		ClassRateLimit: {
			MaxAttempts:   5,
			InitialDelay:  1 * time.Second,
			MaxDelay:      60 * time.Second,
			Multiplier:    2.0,
			UseRetryAfter: true,
			JitterPercent: 0.1,
		},
		ClassTemplate:   noRetryPolicy(),
		ClassFatal:      noRetryPolicy(),
		ClassValidation: noRetryPolicy(),
		ClassCacheIO:    noRetryPolicy(),
	}
}

func noRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// Executor runs operations with class-driven retry. It is the single retry
// path for every provider call; call sites never loop on their own.
type Executor struct {
	policies   map[ErrorClass]*RetryPolicy
	classifier *Classifier
}

// NewExecutor creates an Executor. Nil arguments select defaults.
func NewExecutor(policies map[ErrorClass]*RetryPolicy, classifier *Classifier) *Executor {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Executor{policies: policies, classifier: classifier}
}

// Execute runs fn, classifying each failure and retrying per the class policy.
// The error from the final attempt is returned, classified.
func (e *Executor) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		class := e.classifier.Classify(lastErr)
		lastErr = ensureClassed(class, lastErr)

		policy := e.policy(class)
		if attempt >= policy.MaxAttempts {
			return lastErr
		}

		delay := e.computeDelay(lastErr, attempt, policy)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func (e *Executor) policy(class ErrorClass) *RetryPolicy {
	if policy, ok := e.policies[class]; ok {
		return policy
	}
	return noRetryPolicy()
}

func (e *Executor) computeDelay(err error, attempt int, policy *RetryPolicy) time.Duration {
	if policy.UseRetryAfter {
		if retryAfter := extractRetryAfter(err); retryAfter > 0 {
			return retryAfter
		}
	}

	delay := CalculateDelay(attempt, policy)
	return AddJitter(delay, policy.JitterPercent)
}

func extractRetryAfter(err error) time.Duration {
	var ce *ClassedError
	if errors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

func ensureClassed(class ErrorClass, err error) error {
	var ce *ClassedError
	if errors.As(err, &ce) {
		return err
	}
	return New(class, "provider call failed", err)
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
