// Package provider defines the upstream source of repository telemetry.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pithecene-io/pulse/types"
)

// ErrStatsPending is returned by ContributorStats while the upstream is
// still computing statistics. It is not a failure; callers retry later.
var ErrStatsPending = errors.New("statistics are still being computed")

// Account describes the authenticated or configured account.
type Account struct {
	Login       string    `json:"login"`
	Name        string    `json:"name,omitempty"`
	PublicRepos int       `json:"publicRepos"`
	Followers   int       `json:"followers"`
	RateLimit   int       `json:"rateLimit,omitempty"`
	RateRemain  int       `json:"rateRemaining,omitempty"`
	RateResetAt time.Time `json:"rateResetAt,omitzero"`
}

// Repo is one repository from a listing.
type Repo struct {
	ID          int64
	Owner       string
	Name        string
	FullName    string
	Description string
	HTMLURL     string
	Stars       int
	Forks       int
	PushedAt    time.Time
	Visibility  string
	Fork        bool
	Archived    bool
	Private     bool
}

// ContributorStats is one contributor's weekly activity in a repository.
type ContributorStats struct {
	Login string
	Weeks []types.WeekMetric
}

// Provider is the upstream telemetry API.
type Provider interface {
	// Name keys the provider in the cache's rate-limit table.
	Name() string
	// Viewer returns the account the credentials belong to.
	Viewer(ctx context.Context) (*Account, error)
	// ListRepos returns every repository owned by user.
	ListRepos(ctx context.Context, user string) ([]Repo, error)
	// ContributorStats returns weekly activity per contributor.
	// Returns ErrStatsPending while the upstream is still computing.
	ContributorStats(ctx context.Context, fullName string) ([]ContributorStats, error)
	// ContributionCalendar returns the account's daily contribution counts.
	ContributionCalendar(ctx context.Context, user string, from, to time.Time) (*types.Contributions, error)
}

// Eligible reports whether r is tracked for owner: owned, not a fork, not
// archived, and public.
func Eligible(r Repo, owner string) bool {
	if r.Fork || r.Archived || r.Private {
		return false
	}
	if r.Visibility != "" && r.Visibility != "public" {
		return false
	}
	return strings.EqualFold(r.Owner, owner)
}

// Filter returns the repos Eligible for owner, preserving order.
func Filter(repos []Repo, owner string) []Repo {
	out := make([]Repo, 0, len(repos))
	for _, r := range repos {
		if Eligible(r, owner) {
			out = append(out, r)
		}
	}
	return out
}
