package job

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/types"
)

// accountWeeks sums the weekly activity of contributors matching login.
func accountWeeks(stats []provider.ContributorStats, login string) []types.WeekMetric {
	byWeek := map[int64]types.WeekMetric{}
	for _, cs := range stats {
		if !strings.EqualFold(cs.Login, login) {
			continue
		}
		for _, w := range cs.Weeks {
			agg := byWeek[w.Week]
			agg.Week = w.Week
			agg.Commits += w.Commits
			agg.Additions += w.Additions
			agg.Deletions += w.Deletions
			byWeek[w.Week] = agg
		}
	}
	out := make([]types.WeekMetric, 0, len(byWeek))
	for _, w := range byWeek {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b types.WeekMetric) int { return cmp.Compare(a.Week, b.Week) })
	return out
}

// mergeWeeks overlays incoming onto existing. A week present in both takes
// the incoming value. The result is sorted by week.
func mergeWeeks(existing, incoming []types.WeekMetric) []types.WeekMetric {
	byWeek := make(map[int64]types.WeekMetric, len(existing)+len(incoming))
	for _, w := range existing {
		byWeek[w.Week] = w
	}
	for _, w := range incoming {
		byWeek[w.Week] = w
	}
	out := make([]types.WeekMetric, 0, len(byWeek))
	for _, w := range byWeek {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b types.WeekMetric) int { return cmp.Compare(a.Week, b.Week) })
	return out
}

// trimWeeks drops weeks that start before cutoff.
func trimWeeks(weeks []types.WeekMetric, cutoff time.Time) []types.WeekMetric {
	return slices.DeleteFunc(weeks, func(w types.WeekMetric) bool {
		return time.Unix(w.Week, 0).Before(cutoff)
	})
}

// upsertSnapshot replaces the snapshot for s.Date or appends it, keeping
// snapshots sorted by date.
func upsertSnapshot(snaps []types.Snapshot, s types.Snapshot) []types.Snapshot {
	i, found := slices.BinarySearchFunc(snaps, s.Date, func(e types.Snapshot, date string) int {
		return strings.Compare(e.Date, date)
	})
	if found {
		snaps[i] = s
		return snaps
	}
	return slices.Insert(snaps, i, s)
}

// trimSnapshots drops snapshots dated before cutoffDate (YYYY-MM-DD).
func trimSnapshots(snaps []types.Snapshot, cutoffDate string) []types.Snapshot {
	return slices.DeleteFunc(snaps, func(s types.Snapshot) bool {
		return s.Date < cutoffDate
	})
}

// applyListing copies listing metadata onto m.
func applyListing(m *types.RepoMetric, r provider.Repo) {
	m.ID = r.ID
	m.Name = r.Name
	m.FullName = r.FullName
	m.Description = r.Description
	m.HTMLURL = r.HTMLURL
	m.Stars = r.Stars
	m.Forks = r.Forks
	m.PushedAt = r.PushedAt
	m.Visibility = r.Visibility
	if m.Visibility == "" {
		m.Visibility = "public"
	}
}

// finalizeRepos keeps only repos in listed and sorts by PushedAt, newest first.
func finalizeRepos(repos []types.RepoMetric, listed []provider.Repo) []types.RepoMetric {
	keep := make(map[int64]struct{}, len(listed))
	for _, r := range listed {
		keep[r.ID] = struct{}{}
	}
	repos = slices.DeleteFunc(repos, func(m types.RepoMetric) bool {
		_, ok := keep[m.ID]
		return !ok
	})
	slices.SortStableFunc(repos, func(a, b types.RepoMetric) int {
		if c := b.PushedAt.Compare(a.PushedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return repos
}
