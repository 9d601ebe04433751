// Package webhook delivers job completion events as signed JSON POSTs.
//
// 5xx replies and network errors are retried with backoff; 4xx replies
// are not.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/pulse/adapter"
	"github.com/pithecene-io/pulse/iox"
)

const (
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of redeliveries after a failure.
	DefaultRetries = 3

	// EventHeader carries the event type.
	EventHeader = "X-Pulse-Event"
	// DeliveryHeader carries the run ID, stable across retries.
	DeliveryHeader = "X-Pulse-Delivery"
	// SignatureHeader carries "sha256=" + hex HMAC of the body when a
	// secret is configured.
	SignatureHeader = "X-Pulse-Signature"
)

// Config configures the webhook notifier.
type Config struct {
	// URL receives the POST (required).
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Secret signs the body. Empty disables signing.
	Secret string
	// Timeout bounds each attempt (default 10s).
	Timeout time.Duration
	// Retries is the number of redeliveries after a failed attempt.
	Retries int
}

// Adapter POSTs events to one endpoint.
type Adapter struct {
	config Config
	client *http.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New validates cfg.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook notifier requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// clientError reports replies that a retry cannot fix.
func clientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, event *adapter.JobCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	headers := a.headers(event, body)
	if err := adapter.Retry(ctx, a.config.Retries, clientError, func(ctx context.Context) error {
		return a.post(ctx, body, headers)
	}); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (a *Adapter) headers(event *adapter.JobCompletedEvent, body []byte) http.Header {
	h := make(http.Header, len(a.config.Headers)+4)
	h.Set("Content-Type", "application/json")
	h.Set(EventHeader, event.EventType)
	if event.RunID != "" {
		h.Set(DeliveryHeader, event.RunID)
	}
	if a.config.Secret != "" {
		h.Set(SignatureHeader, Sign(a.config.Secret, body))
	}
	for k, v := range a.config.Headers {
		h.Set(k, v)
	}
	return h
}

func (a *Adapter) post(ctx context.Context, body []byte, headers http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body. Receivers use it.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
