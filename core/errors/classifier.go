package errors

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Classifier maps raw provider/SDK errors onto the error taxonomy.
// Vendor SDKs surface failures as opaque wrapped errors; classification
// happens on status codes first and message content second.
type Classifier struct {
	mu             sync.RWMutex
	rateLimitCodes map[int]struct{}
	fatalCodes     map[int]struct{}
	transientCodes map[int]struct{}
}

// NewClassifier returns a classifier with the default status-code tables.
func NewClassifier() *Classifier {
	return &Classifier{
		rateLimitCodes: map[int]struct{}{
			http.StatusTooManyRequests: {},
		},
		fatalCodes: map[int]struct{}{
			http.StatusUnauthorized:    {},
			http.StatusForbidden:       {},
			http.StatusPaymentRequired: {},
		},
		transientCodes: map[int]struct{}{
			http.StatusInternalServerError: {},
			http.StatusBadGateway:          {},
			http.StatusServiceUnavailable:  {},
			http.StatusGatewayTimeout:      {},
		},
	}
}

// Classify returns the ErrorClass for err. Errors already carrying a class
// keep it; everything else is matched by status code, then message keywords,
// defaulting to Fatal.
func (c *Classifier) Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	var ce *ClassedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.classifyByContent(err.Error())
}

func (c *Classifier) classifyByContent(errStr string) ErrorClass {
	if c.containsAnyStatusCode(errStr, c.rateLimitCodes) || matchesRateLimitKeywords(errStr) {
		return ClassRateLimit
	}
	if c.containsAnyStatusCode(errStr, c.fatalCodes) || matchesFatalKeywords(errStr) {
		return ClassFatal
	}
	if c.containsAnyStatusCode(errStr, c.transientCodes) || matchesTransientKeywords(errStr) {
		return ClassTransient
	}
	return ClassFatal
}

func (c *Classifier) containsAnyStatusCode(errStr string, codes map[int]struct{}) bool {
	for code := range codes {
		if strings.Contains(errStr, strconv.Itoa(code)) {
			return true
		}
	}
	return false
}

var rateLimitKeywords = []string{
	"rate limit",
	"too many requests",
	"overloaded",
}

var fatalKeywords = []string{
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"insufficient quota",
	"billing",
}

var transientKeywords = []string{
	"timeout",
	"deadline exceeded",
	"temporary",
	"connection reset",
	"connection refused",
	"eof",
	"broken pipe",
	"network unreachable",
	"no route to host",
}

func matchesKeywords(errStr string, keywords []string) bool {
	lower := strings.ToLower(errStr)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func matchesRateLimitKeywords(errStr string) bool {
	return matchesKeywords(errStr, rateLimitKeywords)
}

func matchesFatalKeywords(errStr string) bool {
	return matchesKeywords(errStr, fatalKeywords)
}

func matchesTransientKeywords(errStr string) bool {
	return matchesKeywords(errStr, transientKeywords)
}

// AddRateLimitStatus registers an additional rate-limit status code.
func (c *Classifier) AddRateLimitStatus(code int) {
	c.mu.Lock()
	c.rateLimitCodes[code] = struct{}{}
	c.mu.Unlock()
}

// AddFatalStatus registers an additional fatal status code.
func (c *Classifier) AddFatalStatus(code int) {
	c.mu.Lock()
	c.fatalCodes[code] = struct{}{}
	c.mu.Unlock()
}
