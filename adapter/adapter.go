// Package adapter publishes update-job completion notifications to
// downstream systems.
//
// Notification is best-effort: the job logs publish failures and never
// fails a run because of them.
package adapter

import (
	"context"
	"time"
)

// EventTypeJobCompleted is the only event type published.
const EventTypeJobCompleted = "job_completed"

// JobCompletedEvent is the payload published when an update run ends,
// whatever its status.
type JobCompletedEvent struct {
	EventType      string `json:"event_type"` // always "job_completed"
	RunID          string `json:"run_id"`
	User           string `json:"user"`
	Status         string `json:"status"` // completed, failed
	Store          string `json:"store"`
	TotalRepos     int    `json:"total_repos"`
	ProcessedRepos int    `json:"processed_repos"`
	Resumed        bool   `json:"resumed,omitempty"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"timestamp"` // ISO 8601
	DurationMs     int64  `json:"duration_ms"`
}

// NewJobCompletedEvent fills the fixed fields.
func NewJobCompletedEvent(runID string, at time.Time, took time.Duration) *JobCompletedEvent {
	return &JobCompletedEvent{
		EventType:  EventTypeJobCompleted,
		RunID:      runID,
		Timestamp:  at.UTC().Format(time.RFC3339),
		DurationMs: took.Milliseconds(),
	}
}

// Adapter publishes job completion events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *JobCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Recorder is an Adapter that keeps published events in memory.
type Recorder struct {
	Events []*JobCompletedEvent
	Err    error
	Closed bool
}

var _ Adapter = (*Recorder)(nil)

// Publish implements Adapter.
func (r *Recorder) Publish(_ context.Context, event *JobCompletedEvent) error {
	if r.Err != nil {
		return r.Err
	}
	cp := *event
	r.Events = append(r.Events, &cp)
	return nil
}

// Close implements Adapter.
func (r *Recorder) Close() error {
	r.Closed = true
	return nil
}
