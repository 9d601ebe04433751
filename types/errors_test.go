package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimitError_Is(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("fetch repos: %w", &RateLimitError{Provider: "github", Until: until, Reason: "secondary"})

	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is(err, ErrRateLimited)")
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("rate limit should not classify as upstream unavailable")
	}
	rl, ok := AsRateLimit(err)
	if !ok {
		t.Fatal("AsRateLimit should find the wrapped error")
	}
	if !rl.Until.Equal(until) {
		t.Errorf("Until = %v, want %v", rl.Until, until)
	}
}

func TestUpstreamError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &UpstreamError{Provider: "github", Op: "list repos", Err: cause}

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("expected errors.Is(err, ErrUpstreamUnavailable)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via Unwrap")
	}
	if _, ok := AsRateLimit(err); ok {
		t.Error("upstream error should not be a rate limit")
	}

	withStatus := &UpstreamError{Provider: "github", Op: "viewer", StatusCode: 502}
	if got, want := withStatus.Error(), "github viewer: unexpected status 502"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
