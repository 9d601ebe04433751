package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/pulse/adapter"
	"github.com/pithecene-io/pulse/iox"
)

func testEvent() *adapter.JobCompletedEvent {
	e := adapter.NewJobCompletedEvent("run-001", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 1500*time.Millisecond)
	e.User = "octo"
	e.Status = "completed"
	e.Store = "file"
	e.TotalRepos = 4
	e.ProcessedRepos = 4
	return e
}

func TestPublish_Success(t *testing.T) {
	var (
		received adapter.JobCompletedEvent
		header   http.Header
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer hook-token"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if received.RunID != "run-001" || received.EventType != adapter.EventTypeJobCompleted {
		t.Errorf("received = %+v", received)
	}
	if received.Timestamp != "2026-03-01T12:00:00Z" || received.DurationMs != 1500 {
		t.Errorf("timestamp/duration = %s/%d", received.Timestamp, received.DurationMs)
	}
	if got := header.Get("Authorization"); got != "Bearer hook-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := header.Get("X-Pulse-Event"); got != adapter.EventTypeJobCompleted {
		t.Errorf("X-Pulse-Event = %q", got)
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		failFirst    int // replies with code this many times, then 200; -1 = always code
		code         int
		retries      int
		wantErr      bool
		wantAttempts int32
	}{
		{"2xx accepted", -1, http.StatusNoContent, 2, false, 1},
		{"5xx then success", 2, http.StatusInternalServerError, 3, false, 3},
		{"5xx exhausts retries", -1, http.StatusBadGateway, 2, true, 3},
		{"4xx fails immediately", -1, http.StatusUnauthorized, 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := attempts.Add(1)
				if tt.failFirst < 0 || int(n) <= tt.failFirst {
					w.WriteHeader(tt.code)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer ts.Close()

			a, err := New(Config{URL: ts.URL, Retries: tt.retries, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer iox.DiscardClose(a)

			err = a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", a.config.Timeout, DefaultTimeout)
	}
}

func TestPublish_Signed(t *testing.T) {
	var (
		body   []byte
		header http.Header
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Secret: "s3cret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sig := header.Get(SignatureHeader)
	if !Verify("s3cret", body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	if Verify("other", body, sig) {
		t.Error("signature verified with the wrong secret")
	}
	if got := header.Get(DeliveryHeader); got != "run-001" {
		t.Errorf("%s = %q", DeliveryHeader, got)
	}
}
