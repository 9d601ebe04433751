package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Flight is an outstanding computation shared by every caller that asks for
// the same key while it runs.
type Flight struct {
	done    chan struct{}
	once    sync.Once
	joiners atomic.Int64

	val any
	err error
}

// NewFlight creates an unresolved Flight.
func NewFlight() *Flight {
	return &Flight{done: make(chan struct{})}
}

// Resolve records the outcome and releases all waiters. Only the first call
// has any effect.
func (f *Flight) Resolve(val any, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the flight resolves.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Joiners returns how many callers joined after the leader.
func (f *Flight) Joiners() int64 {
	return f.joiners.Load()
}

// Wait blocks until the flight resolves or ctx ends. Cancelling ctx stops
// this caller waiting; the computation itself keeps running.
func (f *Flight) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the outstanding flight for key, or nil.
func (s *Store) InFlight(key string) *Flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flights[key]
}

// SetInFlight registers f as the outstanding flight for key.
func (s *Store) SetInFlight(key string, f *Flight) {
	s.mu.Lock()
	s.flights[key] = f
	s.mu.Unlock()
}

// ClearInFlight removes the outstanding flight for key.
func (s *Store) ClearInFlight(key string) {
	s.mu.Lock()
	delete(s.flights, key)
	s.mu.Unlock()
}

// Join returns the outstanding flight for key, creating and registering a new
// one if none exists. leader is true for the caller that created it; that
// caller must run the computation and clear the flight.
func (s *Store) Join(key string) (f *Flight, leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.flights[key]; ok {
		cur.joiners.Add(1)
		return cur, false
	}
	f = NewFlight()
	s.flights[key] = f
	return f, true
}

// clearFlight removes f only if it is still the registered flight for key.
func (s *Store) clearFlight(key string, f *Flight) {
	s.mu.Lock()
	if s.flights[key] == f {
		delete(s.flights, key)
	}
	s.mu.Unlock()
}

// Coalesce runs fn at most once per key at a time. Callers arriving while a
// computation for key is outstanding wait for it and receive the identical
// result. shared is true for those joiners.
//
// The computation runs detached from any single caller's cancellation, so a
// leader that gives up does not fail the others. The flight is cleared when
// fn returns, whether it succeeded, failed, or panicked.
func Coalesce[T any](ctx context.Context, s *Store, key string, fn func(context.Context) (T, error)) (val T, shared bool, err error) {
	f, leader := s.Join(key)
	if leader {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			var (
				v    T
				rerr error
			)
			defer func() {
				if r := recover(); r != nil {
					rerr = fmt.Errorf("coalesced computation for %q panicked: %v", key, r)
				}
				s.clearFlight(key, f)
				f.Resolve(v, rerr)
			}()
			v, rerr = fn(runCtx)
		}()
	}

	raw, err := f.Wait(ctx)
	if err != nil {
		if typed, ok := raw.(T); ok {
			val = typed
		}
		return val, !leader, err
	}
	typed, ok := raw.(T)
	if !ok && raw != nil {
		return val, !leader, fmt.Errorf("coalesced result for %q has type %T", key, raw)
	}
	return typed, !leader, nil
}
