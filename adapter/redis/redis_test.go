package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/pulse/adapter"
)

func testEvent() *adapter.JobCompletedEvent {
	e := adapter.NewJobCompletedEvent("run-001", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	e.User = "octo"
	e.Status = "failed"
	e.Error = "github: rate limited"
	return e
}

// receive reads one message in the background. Start it before Publish:
// miniredis delivers pub/sub synchronously.
func receive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func TestPublish_Channels(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{"default", "", DefaultChannel},
		{"custom", "ops:pulse", "ops:pulse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: tt.channel})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer func() { _ = a.Close() }()

			sub := mr.NewSubscriber()
			sub.Subscribe(tt.want)
			ch := receive(sub)

			if err := a.Publish(t.Context(), testEvent()); err != nil {
				t.Fatalf("publish: %v", err)
			}

			select {
			case msg := <-ch:
				if msg.Channel != tt.want {
					t.Errorf("channel = %q, want %q", msg.Channel, tt.want)
				}
				var got adapter.JobCompletedEvent
				if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if got.Status != "failed" || got.Error == "" || got.EventType != adapter.EventTypeJobCompleted {
					t.Errorf("event = %+v", got)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for pub/sub message")
			}
		})
	}
}

func TestPublish_Unreachable(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	b, _ := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	defer func() { _ = b.Close() }()
	if err := b.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := New(Config{URL: "://bad"}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := New(Config{URL: "redis://localhost:6379", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}

	a, err := New(Config{URL: "redis://localhost:6379"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()
	if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout {
		t.Errorf("defaults = %+v", a.config)
	}
}

func TestPublish_History(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), HistoryKey: "pulse:events", HistoryLen: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		e := testEvent()
		e.RunID = id
		if err := a.Publish(t.Context(), e); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	got, err := a.Recent(t.Context(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "run-3" || got[1].RunID != "run-2" {
		t.Errorf("recent = %+v, want run-3, run-2", got)
	}

	plain, _ := New(Config{URL: "redis://" + mr.Addr()})
	defer func() { _ = plain.Close() }()
	if got, err := plain.Recent(t.Context(), 10); err != nil || got != nil {
		t.Errorf("recent without history key = (%v, %v)", got, err)
	}
}
