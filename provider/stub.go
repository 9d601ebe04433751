package provider

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/pulse/types"
)

// Stub is an in-process Provider with canned responses.
type Stub struct {
	mu sync.Mutex

	Account  *Account
	Repos    []Repo
	Stats    map[string][]ContributorStats
	Calendar *types.Contributions

	ViewerErr   error
	ListErr     error
	CalendarErr error
	// StatsErr maps a full name to the error ContributorStats returns.
	StatsErr map[string]error
	// PendingFor makes ContributorStats return ErrStatsPending this many
	// times per repo before answering.
	PendingFor int

	ViewerCalls   int
	ListCalls     int
	StatsCalls    map[string]int
	CalendarCalls int
}

var _ Provider = (*Stub)(nil)

// Name implements Provider.
func (s *Stub) Name() string { return "stub" }

// Viewer implements Provider.
func (s *Stub) Viewer(_ context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ViewerCalls++
	if s.ViewerErr != nil {
		return nil, s.ViewerErr
	}
	if s.Account == nil {
		return &Account{Login: "stub"}, nil
	}
	a := *s.Account
	return &a, nil
}

// ListRepos implements Provider.
func (s *Stub) ListRepos(_ context.Context, _ string) ([]Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return append([]Repo(nil), s.Repos...), nil
}

// ContributorStats implements Provider.
func (s *Stub) ContributorStats(_ context.Context, fullName string) ([]ContributorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatsCalls == nil {
		s.StatsCalls = make(map[string]int)
	}
	s.StatsCalls[fullName]++
	if err := s.StatsErr[fullName]; err != nil {
		return nil, err
	}
	if s.StatsCalls[fullName] <= s.PendingFor {
		return nil, ErrStatsPending
	}
	return s.Stats[fullName], nil
}

// ContributionCalendar implements Provider.
func (s *Stub) ContributionCalendar(_ context.Context, _ string, _, _ time.Time) (*types.Contributions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CalendarCalls++
	if s.CalendarErr != nil {
		return nil, s.CalendarErr
	}
	return s.Calendar, nil
}

// StatsCallCount returns how many times ContributorStats ran for fullName.
func (s *Stub) StatsCallCount(fullName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StatsCalls[fullName]
}
