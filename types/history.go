// Package types defines the core domain types shared by the cache, store,
// job, status, and client packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-day layout used for snapshots and contribution days.
const DateLayout = "2006-01-02"

// MetricsHistory is the persisted metrics document.
// It is read, partially mutated per repo, and rewritten wholesale on every
// checkpoint of an update run.
type MetricsHistory struct {
	SchemaVersion int            `json:"schemaVersion,omitempty"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	User          string         `json:"user"`
	Progress      Progress       `json:"progress"`
	Contributions *Contributions `json:"contributions,omitempty"`
	Repos         []RepoMetric   `json:"repos"`
}

// Progress tracks an update run. FinishedAt is set only when a run completes.
type Progress struct {
	TotalRepos     int        `json:"totalRepos"`
	ProcessedRepos int        `json:"processedRepos"`
	StartedAt      time.Time  `json:"startedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	FinishedAt     *time.Time `json:"finishedAt"`
}

// Validate checks 0 <= processedRepos <= totalRepos.
func (p Progress) Validate() error {
	if p.ProcessedRepos < 0 || p.TotalRepos < 0 {
		return errors.New("progress counters must be non-negative")
	}
	if p.ProcessedRepos > p.TotalRepos {
		return fmt.Errorf("processed repos %d exceeds total %d", p.ProcessedRepos, p.TotalRepos)
	}
	return nil
}

// Unfinished reports whether a run was started but never finalized.
func (p Progress) Unfinished() bool {
	return !p.StartedAt.IsZero() && p.FinishedAt == nil
}

// Contributions is the account-wide contribution calendar.
type Contributions struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Days []ContributionDay `json:"days"`
}

// Total sums contribution counts across all days.
func (c *Contributions) Total() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, d := range c.Days {
		total += d.Count
	}
	return total
}

// ContributionDay is one calendar cell.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// RepoMetric is the per-repository history.
type RepoMetric struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	FullName    string       `json:"fullName"`
	Description string       `json:"description,omitempty"`
	HTMLURL     string       `json:"htmlUrl,omitempty"`
	Stars       int          `json:"stars"`
	Forks       int          `json:"forks"`
	PushedAt    time.Time    `json:"pushedAt"`
	Visibility  string       `json:"visibility"`
	Weeks       []WeekMetric `json:"weeks"`
	Snapshots   []Snapshot   `json:"snapshots"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// WeekMetric is one ISO week of contributor activity. Week is unix seconds.
type WeekMetric struct {
	Week      int64 `json:"week"`
	Commits   int   `json:"commits"`
	Additions int   `json:"additions"`
	Deletions int   `json:"deletions"`
}

// Snapshot records a repository's public counters on one calendar day.
// At most one snapshot exists per day per repo.
type Snapshot struct {
	Date     string    `json:"date"`
	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`
	PushedAt time.Time `json:"pushedAt"`
}

// RepoIndex returns the position of the repo with the given id, or -1.
func (h *MetricsHistory) RepoIndex(id int64) int {
	for i := range h.Repos {
		if h.Repos[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing a
// document that may be cached elsewhere.
func (h *MetricsHistory) Clone() *MetricsHistory {
	if h == nil {
		return nil
	}
	out := *h
	if h.Progress.FinishedAt != nil {
		finished := *h.Progress.FinishedAt
		out.Progress.FinishedAt = &finished
	}
	if h.Contributions != nil {
		c := *h.Contributions
		c.Days = append([]ContributionDay(nil), h.Contributions.Days...)
		out.Contributions = &c
	}
	out.Repos = make([]RepoMetric, len(h.Repos))
	for i, r := range h.Repos {
		r.Weeks = append([]WeekMetric(nil), r.Weeks...)
		r.Snapshots = append([]Snapshot(nil), r.Snapshots...)
		out.Repos[i] = r
	}
	return &out
}
