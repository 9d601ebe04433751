// Package client keeps a shared, locally persisted view of one status feed.
//
// A Store polls its feed only while it has subscribers. It holds at most one
// outstanding request and one pending timer. Concurrent refreshes share the
// outstanding request, and a request is never aborted once started.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/log"
)

// Defaults applied by New.
const (
	DefaultCacheMaxAge = 24 * time.Hour
	DefaultIdleDelay   = 5 * time.Minute
)

const flightKey = "status"

// State is the lifecycle state of a Snapshot.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Snapshot is the externally observable state of a Store.
type Snapshot[T any] struct {
	State State `json:"state"`
	Data  *T    `json:"data,omitempty"`
	// IsCached is set when Data came from the local persisted cache rather
	// than the latest response.
	IsCached bool   `json:"isCached"`
	Err      string `json:"error,omitempty"`
}

// Fetcher performs one request against the feed.
type Fetcher[T any] func(ctx context.Context, force bool) (T, error)

// Timer is a pending scheduled fetch.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

// Config wires a Store. Fetch is required.
type Config[T any] struct {
	Fetch     Fetcher[T]
	Persister Persister[T]
	// CacheMaxAge bounds how old a persisted payload may be and still be
	// served.
	CacheMaxAge time.Duration
	// Delay picks the wait before the next poll after a successful fetch.
	// Defaults to IdleDelay.
	Delay func(T) time.Duration
	// IdleDelay is the wait after a failed fetch.
	IdleDelay time.Duration
	// ErrorOf extracts an in-band error from a payload. A non-empty result
	// puts the store in StateError.
	ErrorOf   func(T) string
	Clock     clock.Clock
	AfterFunc AfterFunc
	Logger    *log.Logger
}

// Store is a reference-counted subscription source for one feed.
type Store[T any] struct {
	cfg    Config[T]
	clock  clock.Clock
	logger *log.Logger
	group  singleflight.Group

	mu        sync.Mutex
	snap      Snapshot[T]
	listeners map[uint64]func(Snapshot[T])
	nextID    uint64
	timer     Timer
	timerGen  uint64
}

// New creates a Store in StateIdle.
func New[T any](cfg Config[T]) (*Store[T], error) {
	if cfg.Fetch == nil {
		return nil, errors.New("client: fetch is required")
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = DefaultCacheMaxAge
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if cfg.Delay == nil {
		idle := cfg.IdleDelay
		cfg.Delay = func(T) time.Duration { return idle }
	}
	if cfg.ErrorOf == nil {
		cfg.ErrorOf = func(T) string { return "" }
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Store[T]{
		cfg:       cfg,
		clock:     clock.OrReal(cfg.Clock),
		logger:    log.OrNop(cfg.Logger).Named("client"),
		snap:      Snapshot[T]{State: StateIdle},
		listeners: make(map[uint64]func(Snapshot[T])),
	}, nil
}

// Snapshot returns the current state.
func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers fn, which receives the current snapshot immediately
// and again on every change. The first subscriber hydrates the store from
// the persisted cache and starts a background fetch. The returned function
// unsubscribes; the last unsubscribe cancels any pending poll.
func (s *Store[T]) Subscribe(fn func(Snapshot[T])) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	first := len(s.listeners) == 1
	if first {
		s.hydrateLocked()
	}
	snap := s.snap
	s.mu.Unlock()

	fn(snap)
	if first {
		go func() { _, _ = s.FetchStatus(context.Background(), false) }()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			if len(s.listeners) == 0 {
				s.stopTimerLocked()
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (s *Store[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// FetchStatus fetches the feed, sharing any request already outstanding.
// ctx bounds only the wait: the request itself runs to completion.
func (s *Store[T]) FetchStatus(ctx context.Context, force bool) (T, error) {
	ch := s.group.DoChan(flightKey, func() (any, error) {
		return s.fetch(force)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		return r.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (s *Store[T]) fetch(force bool) (T, error) {
	s.mu.Lock()
	var deliver func()
	if s.snap.Data == nil && s.snap.State != StateLoading {
		s.snap.State = StateLoading
		deliver = s.pendingLocked()
	}
	s.mu.Unlock()
	if deliver != nil {
		deliver()
	}

	v, err := s.cfg.Fetch(context.Background(), force)
	delay, persist := s.settle(v, err)

	// Release the flight before arming the next poll: a timer that fires
	// while listeners run must start a new fetch, not join this one.
	s.group.Forget(flightKey)

	s.mu.Lock()
	if len(s.listeners) > 0 {
		s.scheduleLocked(delay)
	}
	deliver = s.pendingLocked()
	s.mu.Unlock()

	if persist && s.cfg.Persister != nil {
		if perr := s.cfg.Persister.Save(context.Background(), CachePayload[T]{Payload: v, CachedAt: s.clock.Now()}); perr != nil {
			s.logger.Warn("persist status", map[string]any{"error": perr.Error()})
		}
	}
	deliver()
	return v, err
}

// settle applies a fetch outcome to the snapshot. It returns the wait before
// the next poll and whether the payload should be persisted.
func (s *Store[T]) settle(v T, err error) (delay time.Duration, persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	if err == nil {
		data := v
		if msg := s.cfg.ErrorOf(v); msg != "" {
			s.snap = Snapshot[T]{State: StateError, Data: &data, Err: msg}
			return s.cfg.Delay(v), false
		}
		s.snap = Snapshot[T]{State: StateReady, Data: &data}
		return s.cfg.Delay(v), true
	}
	s.logger.Warn("status fetch failed", map[string]any{"error": err.Error()})
	if p := s.loadFresh(); p != nil {
		data := p.Payload
		s.snap = Snapshot[T]{State: StateReady, Data: &data, IsCached: true}
	} else {
		s.snap = Snapshot[T]{State: StateError, Data: s.snap.Data, IsCached: s.snap.IsCached, Err: err.Error()}
	}
	return s.cfg.IdleDelay, false
}

// hydrateLocked serves a persisted payload if the store has no data yet.
func (s *Store[T]) hydrateLocked() {
	if s.snap.Data != nil {
		return
	}
	if p := s.loadFresh(); p != nil {
		data := p.Payload
		s.snap = Snapshot[T]{State: StateReady, Data: &data, IsCached: true}
	}
}

// loadFresh returns the persisted payload if it is within CacheMaxAge.
func (s *Store[T]) loadFresh() *CachePayload[T] {
	if s.cfg.Persister == nil {
		return nil
	}
	p, err := s.cfg.Persister.Load(context.Background())
	if err != nil {
		s.logger.Warn("load persisted status", map[string]any{"error": err.Error()})
		return nil
	}
	if p == nil || s.clock.Now().Sub(p.CachedAt) > s.cfg.CacheMaxAge {
		return nil
	}
	return p
}

func (s *Store[T]) scheduleLocked(d time.Duration) {
	s.stopTimerLocked()
	gen := s.timerGen
	s.timer = s.cfg.AfterFunc(d, func() { s.onTimer(gen) })
}

func (s *Store[T]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Store[T]) onTimer(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen || len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	_, _ = s.FetchStatus(context.Background(), false)
}

// pendingLocked captures the current snapshot and listeners for delivery
// after the lock is released.
func (s *Store[T]) pendingLocked() func() {
	snap := s.snap
	fns := make([]func(Snapshot[T]), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}
