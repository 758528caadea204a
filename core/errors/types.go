// Package errors implements the generation error taxonomy with classification
// and per-class retry behavior.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorClass partitions every failure the pipeline can observe.
// Each class has a defined retry and reporting behavior.
type ErrorClass int

const (
	// ClassTemplate indicates a caller mistake in prompt rendering.
	// Examples: unknown template id, missing context field. Never retried.
	ClassTemplate ErrorClass = iota

	// ClassTransient indicates temporary trouble that should be retried
	// with a short backoff. Examples: network timeouts, connection resets.
	ClassTransient

	// ClassRateLimit indicates provider rate limiting. Retried with a long
	// backoff, honoring Retry-After when the provider supplies one.
	ClassRateLimit

	// ClassFatal indicates errors that will not resolve with retry and must
	// surface immediately. Examples: bad API key, exhausted quota.
	ClassFatal

	// ClassValidation indicates a generated artifact violated a style-guide
	// or schema constraint. Handled by a bounded re-prompt loop, not backoff.
	ClassValidation

	// ClassCacheIO indicates a cache tier failure. Logged and swallowed;
	// the cache is an optimization, never a correctness requirement.
	ClassCacheIO
)

var classNames = map[ErrorClass]string{
	ClassTemplate:   "template",
	ClassTransient:  "transient",
	ClassRateLimit:  "rate_limit",
	ClassFatal:      "fatal",
	ClassValidation: "validation",
	ClassCacheIO:    "cache_io",
}

func (c ErrorClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// ClassBehavior defines the handling behavior for an error class.
type ClassBehavior struct {
	// ShouldRetry indicates whether errors of this class are retried in place.
	ShouldRetry bool

	// MaxAttempts is the retry attempt budget.
	MaxAttempts int

	// BaseBackoff is the initial backoff duration.
	BaseBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// AbortsPhase indicates whether the failure fails the owning phase
	// when it hits a required artifact.
	AbortsPhase bool
}

// DefaultBehaviors returns the default behavior for each error class.
func DefaultBehaviors() map[ErrorClass]ClassBehavior {
	return map[ErrorClass]ClassBehavior{
		ClassTemplate: {
			ShouldRetry: false,
			AbortsPhase: true,
		},
		ClassTransient: {
			ShouldRetry: true,
			MaxAttempts: 5,
			BaseBackoff: 250 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			AbortsPhase: false,
		},
		ClassRateLimit: {
			ShouldRetry: true,
			MaxAttempts: 5,
			BaseBackoff: 1 * time.Second,
			MaxBackoff:  60 * time.Second,
			AbortsPhase: false,
		},
		ClassFatal: {
			ShouldRetry: false,
			AbortsPhase: true,
		},
		ClassValidation: {
			ShouldRetry: true,
			MaxAttempts: 3,
			BaseBackoff: 0,
			MaxBackoff:  0,
			AbortsPhase: true,
		},
		ClassCacheIO: {
			ShouldRetry: false,
			AbortsPhase: false,
		},
	}
}

// ClassedError wraps an error with its class.
type ClassedError struct {
	Class      ErrorClass
	Message    string
	Underlying error
	StatusCode int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ClassedError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ClassedError) Unwrap() error {
	return e.Underlying
}

// Is matches another ClassedError by class.
func (e *ClassedError) Is(target error) bool {
	var ce *ClassedError
	if errors.As(target, &ce) {
		return e.Class == ce.Class
	}
	return false
}

// New creates a ClassedError with the given class and message.
func New(class ErrorClass, message string, underlying error) *ClassedError {
	return &ClassedError{
		Class:      class,
		Message:    message,
		Underlying: underlying,
	}
}

// WithStatusCode attaches an HTTP status code.
func (e *ClassedError) WithStatusCode(code int) *ClassedError {
	e.StatusCode = code
	return e
}

// WithRetryAfter attaches the provider's requested retry delay.
func (e *ClassedError) WithRetryAfter(d time.Duration) *ClassedError {
	e.RetryAfter = d
	return e
}

// GetClass extracts the ErrorClass from an error, defaulting to Fatal: an
// unrecognized failure must never be silently retried against a paid API.
func GetClass(err error) ErrorClass {
	var ce *ClassedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassFatal
}

// GetBehavior returns the behavior for an error's class.
func GetBehavior(err error) ClassBehavior {
	return DefaultBehaviors()[GetClass(err)]
}

// IsRetryable reports whether an error should be retried in place.
func IsRetryable(err error) bool {
	return GetBehavior(err).ShouldRetry
}

// Sentinel errors for the common failure shapes.
var (
	ErrTemplateNotFound    = New(ClassTemplate, "template not found", nil)
	ErrMissingContextField = New(ClassTemplate, "missing context field", nil)

	ErrTimeout         = New(ClassTransient, "provider call timed out", nil)
	ErrConnectionReset = New(ClassTransient, "connection reset", nil)

	ErrRateLimited = New(ClassRateLimit, "rate limited", nil).WithStatusCode(http.StatusTooManyRequests)

	ErrUnauthorized   = New(ClassFatal, "unauthorized", nil).WithStatusCode(http.StatusUnauthorized)
	ErrQuotaExhausted = New(ClassFatal, "quota exhausted", nil)
	ErrMissingAPIKey  = New(ClassFatal, "missing API key", nil)

	ErrPaletteViolation   = New(ClassValidation, "palette constraint violated", nil)
	ErrDimensionViolation = New(ClassValidation, "dimension constraint violated", nil)
	ErrSchemaViolation    = New(ClassValidation, "response schema violated", nil)

	ErrCacheWrite = New(ClassCacheIO, "cache write failed", nil)
	ErrCacheRead  = New(ClassCacheIO, "cache read failed", nil)
)

// Wrap classifies err with the given class unless it already carries one;
// an existing class is preserved so retry behavior stays stable across layers.
func Wrap(class ErrorClass, message string, err error) error {
	if err == nil {
		return nil
	}

	var ce *ClassedError
	if errors.As(err, &ce) {
		return &ClassedError{
			Class:      ce.Class,
			Message:    message,
			Underlying: err,
			StatusCode: ce.StatusCode,
			RetryAfter: ce.RetryAfter,
		}
	}

	return New(class, message, err)
}
