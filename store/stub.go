package store

import (
	"context"
	"sync"

	"github.com/pithecene-io/pulse/types"
)

// StubStore is an in-process MetricsStore with injectable failures.
// Documents are deep-copied on the way in and out, matching the isolation
// of a real backend.
type StubStore struct {
	mu      sync.Mutex
	history *types.MetricsHistory
	lock    *types.Lock

	// Injected errors, returned by the matching operation when set.
	GetHistoryErr  error
	SaveHistoryErr error
	GetLockErr     error
	SetLockErr     error
	ClearLockErr   error

	// SaveHook, if set, runs before each successful save with the saved copy.
	SaveHook func(h *types.MetricsHistory)

	Saves      int
	LockSets   int
	LockClears int
	Closed     bool
}

var _ MetricsStore = (*StubStore)(nil)

// NewStubStore creates an empty StubStore.
func NewStubStore() *StubStore {
	return &StubStore{}
}

// GetHistory implements MetricsStore.
func (s *StubStore) GetHistory(_ context.Context) (*types.MetricsHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetHistoryErr != nil {
		return nil, s.GetHistoryErr
	}
	return s.history.Clone(), nil
}

// SaveHistory implements MetricsStore.
func (s *StubStore) SaveHistory(_ context.Context, h *types.MetricsHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveHistoryErr != nil {
		return s.SaveHistoryErr
	}
	s.history = h.Clone()
	s.Saves++
	if s.SaveHook != nil {
		s.SaveHook(s.history.Clone())
	}
	return nil
}

// GetLock implements MetricsStore.
func (s *StubStore) GetLock(_ context.Context) (*types.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetLockErr != nil {
		return nil, s.GetLockErr
	}
	if s.lock == nil {
		return nil, nil
	}
	l := *s.lock
	return &l, nil
}

// SetLock implements MetricsStore.
func (s *StubStore) SetLock(_ context.Context, l *types.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetLockErr != nil {
		return s.SetLockErr
	}
	cp := *l
	s.lock = &cp
	s.LockSets++
	return nil
}

// ClearLock implements MetricsStore.
func (s *StubStore) ClearLock(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearLockErr != nil {
		return s.ClearLockErr
	}
	s.lock = nil
	s.LockClears++
	return nil
}

// Close implements MetricsStore.
func (s *StubStore) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// Seed replaces the stored history and lock without counting as a save.
func (s *StubStore) Seed(h *types.MetricsHistory, l *types.Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h.Clone()
	if l != nil {
		cp := *l
		s.lock = &cp
	} else {
		s.lock = nil
	}
}
