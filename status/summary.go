package status

import (
	"cmp"
	"slices"
	"time"

	"github.com/pithecene-io/pulse/types"
)

// Activity totals commits and line changes over a window.
type Activity struct {
	Commits   int `json:"commits"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// RepoSummary is one entry in MetricsSummary.TopRepos.
type RepoSummary struct {
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	HTMLURL       string    `json:"htmlUrl,omitempty"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	PushedAt      time.Time `json:"pushedAt"`
	CommitsByYear int       `json:"commits52w"`
}

// MetricsSummary is the /api/metrics/status payload.
type MetricsSummary struct {
	User          string          `json:"user"`
	GeneratedAt   time.Time       `json:"generatedAt,omitzero"`
	TotalRepos    int             `json:"totalRepos"`
	TotalStars    int             `json:"totalStars"`
	TotalForks    int             `json:"totalForks"`
	Last4Weeks    Activity        `json:"last4Weeks"`
	Last52Weeks   Activity        `json:"last52Weeks"`
	Progress      *types.Progress `json:"progress,omitempty"`
	InProgress    bool            `json:"inProgress"`
	LockExpiresAt time.Time       `json:"lockExpiresAt,omitzero"`
	Contributions int             `json:"contributions"`
	TopRepos      []RepoSummary   `json:"topRepos"`
}

// Summarize derives the status payload from the stored history and lock.
// A run counts as in progress if the lock is active or the stored progress
// was never finished.
func Summarize(h *types.MetricsHistory, lock *types.Lock, now time.Time, lockStaleAfter time.Duration, top int) MetricsSummary {
	s := MetricsSummary{TopRepos: []RepoSummary{}}
	if lock.Active(now, lockStaleAfter) {
		s.InProgress = true
		s.LockExpiresAt = lock.ExpiresAt(lockStaleAfter)
	}
	if h == nil {
		return s
	}

	s.User = h.User
	s.GeneratedAt = h.GeneratedAt
	s.TotalRepos = len(h.Repos)
	p := h.Progress
	s.Progress = &p
	if p.Unfinished() {
		s.InProgress = true
	}
	s.Contributions = h.Contributions.Total()

	cut4 := now.AddDate(0, 0, -28).Unix()
	cut52 := now.AddDate(0, 0, -364).Unix()
	repos := make([]RepoSummary, 0, len(h.Repos))
	for _, r := range h.Repos {
		s.TotalStars += r.Stars
		s.TotalForks += r.Forks
		rs := RepoSummary{
			Name:     r.Name,
			FullName: r.FullName,
			HTMLURL:  r.HTMLURL,
			Stars:    r.Stars,
			Forks:    r.Forks,
			PushedAt: r.PushedAt,
		}
		for _, w := range r.Weeks {
			if w.Week >= cut52 {
				s.Last52Weeks.add(w)
				rs.CommitsByYear += w.Commits
			}
			if w.Week >= cut4 {
				s.Last4Weeks.add(w)
			}
		}
		repos = append(repos, rs)
	}

	slices.SortStableFunc(repos, func(a, b RepoSummary) int {
		if c := cmp.Compare(b.Stars, a.Stars); c != 0 {
			return c
		}
		return cmp.Compare(b.CommitsByYear, a.CommitsByYear)
	})
	if top > 0 && len(repos) > top {
		repos = repos[:top]
	}
	s.TopRepos = repos
	return s
}

func (a *Activity) add(w types.WeekMetric) {
	a.Commits += w.Commits
	a.Additions += w.Additions
	a.Deletions += w.Deletions
}
