// Package cache implements the process-local telemetry cache.
//
// A Store holds four independent tables behind one mutex:
//   - entries: keyed payloads with a TTL and an additional stale window
//   - flights: outstanding computations shared by concurrent callers
//   - rate limits: per-provider backoff windows that only move forward
//   - manual refreshes: last allowed manual refresh per key (cooldown limiter)
//
// Nothing is persisted. Every entry is cheap to recompute, so instances in
// different processes do not coordinate.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pithecene-io/pulse/clock"
)

// State classifies an entry at a point in time.
type State int

const (
	// Fresh entries are served without recomputation.
	Fresh State = iota
	// Stale entries may be served while a refresh is attempted.
	Stale
	// Expired entries behave as if absent.
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "expired"
	}
}

// Entry is a cached payload. Entries are replaced wholesale, never mutated.
// Invariant: StaleUntil >= ExpiresAt.
type Entry struct {
	Data       any
	ExpiresAt  time.Time
	StaleUntil time.Time
}

// State reports the entry's state at now.
func (e Entry) State(now time.Time) State {
	switch {
	case now.Before(e.ExpiresAt):
		return Fresh
	case now.Before(e.StaleUntil):
		return Stale
	default:
		return Expired
	}
}

// MarshalJSON encodes the entry with epoch-millisecond timestamps.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Data       any   `json:"data"`
		ExpiresAt  int64 `json:"expiresAt"`
		StaleUntil int64 `json:"staleUntil"`
	}{e.Data, e.ExpiresAt.UnixMilli(), e.StaleUntil.UnixMilli()})
}

// RateLimit is a provider backoff window.
type RateLimit struct {
	Until  time.Time `json:"until"`
	Reason string    `json:"reason,omitempty"`
}

// Decision is the result of a manual refresh check.
type Decision struct {
	Allowed       bool
	NextAllowedAt time.Time
}

// Store is the cache service. Construct one per process with New.
type Store struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]Entry
	flights map[string]*Flight
	limits  map[string]RateLimit
	manual  map[string]time.Time
}

// New creates an empty Store. A nil clock uses wall-clock time.
func New(c clock.Clock) *Store {
	return &Store{
		clock:   clock.OrReal(c),
		entries: make(map[string]Entry),
		flights: make(map[string]*Flight),
		limits:  make(map[string]RateLimit),
		manual:  make(map[string]time.Time),
	}
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Get returns the entry for key if it is fresh or stale.
// Entries past their stale window are evicted and reported absent.
func (s *Store) Get(key string) (Entry, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if e.State(now) == Expired {
		delete(s.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Set stores data under key, fresh for ttl and servable for a further stale.
// Negative durations are treated as zero.
func (s *Store) Set(key string, data any, ttl, stale time.Duration) Entry {
	ttl = max(ttl, 0)
	stale = max(stale, 0)
	now := s.clock.Now()
	e := Entry{
		Data:      data,
		ExpiresAt: now.Add(ttl),
	}
	e.StaleUntil = e.ExpiresAt.Add(stale)

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return e
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of stored entries, including ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Purge evicts every entry past its stale window and every expired rate limit.
// Returns the number of entries removed.
func (s *Store) Purge() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.State(now) == Expired {
			delete(s.entries, k)
			removed++
		}
	}
	for p, rl := range s.limits {
		if !rl.Until.After(now) {
			delete(s.limits, p)
		}
	}
	return removed
}

// RateLimit returns the active backoff window for provider.
// An expired window is evicted and reported absent.
func (s *Store) RateLimit(provider string) (RateLimit, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, ok := s.limits[provider]
	if !ok {
		return RateLimit{}, false
	}
	if !rl.Until.After(now) {
		delete(s.limits, provider)
		return RateLimit{}, false
	}
	return rl, true
}

// SetRateLimit records a backoff window for provider. An existing window that
// already ends later is kept: a later, possibly stale signal never shortens
// a known outage.
func (s *Store) SetRateLimit(provider string, until time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.limits[provider]; ok && !until.After(cur.Until) {
		return
	}
	s.limits[provider] = RateLimit{Until: until, Reason: reason}
}

// CheckManualRefresh is a single-slot limiter. The first call for key, or the
// first call after cooldown has elapsed, is allowed and restarts the window.
// Calls inside the window are rejected with the time they become allowed.
func (s *Store) CheckManualRefresh(key string, cooldown time.Duration) Decision {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.manual[key]; ok {
		next := last.Add(cooldown)
		if now.Before(next) {
			return Decision{Allowed: false, NextAllowedAt: next}
		}
	}
	s.manual[key] = now
	return Decision{Allowed: true, NextAllowedAt: now.Add(cooldown)}
}
