package types

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Use errors.Is(err, ErrXxx) for classification.
var (
	// ErrUpstreamUnavailable indicates a network or non-success reply from an external dependency.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates an explicit provider-declared backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockContention indicates the update job is already running.
	ErrLockContention = errors.New("update already in progress")

	// ErrThrottled indicates the manual-refresh cooldown is active.
	ErrThrottled = errors.New("refresh throttled")

	// ErrPersistence indicates a metrics store read or write failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrConfigurationMissing indicates missing credentials or required configuration.
	ErrConfigurationMissing = errors.New("configuration missing")
)

// RateLimitError carries the provider-declared backoff window.
type RateLimitError struct {
	Provider string
	Until    time.Time
	Reason   string
}

func (e *RateLimitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: rate limited until %s: %s", e.Provider, e.Until.UTC().Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("%s: rate limited until %s", e.Provider, e.Until.UTC().Format(time.RFC3339))
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError wraps a failed call to an external dependency.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// AsRateLimit extracts a RateLimitError from err's chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
