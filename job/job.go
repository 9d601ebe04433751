// Package job implements the incremental update run that refreshes the
// persisted metrics history from the provider.
//
// A run moves through lock check, freshness guard, a sequential per-repo
// loop that checkpoints the whole document after every repo, and a final
// pass that sets the completion markers. The advisory lock is cleared on
// every exit path.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/pulse/adapter"
	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/metrics"
	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

// Defaults applied by New.
const (
	DefaultRetentionDays = 365
	DefaultMinInterval   = 6 * time.Hour
	DefaultStatsAttempts = 5
	DefaultStatsBackoff  = 2 * time.Second

	clearLockTimeout = 30 * time.Second
	notifyTimeout    = 30 * time.Second
)

// Status is the outcome of a run request.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusInProgress Status = "in_progress"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Result describes a run request's outcome.
type Result struct {
	Status         Status    `json:"status"`
	RunID          string    `json:"runId,omitempty"`
	User           string    `json:"user,omitempty"`
	NextAllowedAt  time.Time `json:"nextAllowedAt,omitzero"`
	TotalRepos     int       `json:"totalRepos"`
	ProcessedRepos int       `json:"processedRepos"`
	Resumed        bool      `json:"resumed,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
	FinishedAt     time.Time `json:"finishedAt,omitzero"`
	Error          string    `json:"error,omitempty"`
}

// RateLimitSink receives provider backoff windows observed during a run.
// *cache.Store satisfies it.
type RateLimitSink interface {
	SetRateLimit(provider string, until time.Time, reason string)
}

// Config wires a Job. Store and Provider are required.
type Config struct {
	Store     store.MetricsStore
	Provider  provider.Provider
	Clock     clock.Clock
	Logger    *log.Logger
	Collector *metrics.Collector
	// Notifier, if set, receives a JobCompletedEvent after each run.
	Notifier adapter.Adapter
	// RateLimits, if set, records provider rate limits hit by the run.
	RateLimits RateLimitSink
	// StoreBackend names the store in notifications.
	StoreBackend string

	// User is the default account; empty resolves the credentials' viewer.
	User string

	RetentionDays  int
	MinInterval    time.Duration
	LockStaleAfter time.Duration

	// StatsAttempts and StatsBackoff bound retries while the provider is
	// still computing contributor statistics. Backoff doubles per attempt.
	StatsAttempts int
	StatsBackoff  time.Duration

	// Sleep waits between stats attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// PID is recorded in the lock. Defaults to os.Getpid().
	PID int
	// NewRunID generates run identifiers. Defaults to uuid.NewString.
	NewRunID func() string
}

// Options are per-run overrides.
type Options struct {
	// Force bypasses the freshness guard. It never bypasses an active lock.
	Force bool
	// User overrides Config.User for this run.
	User string
}

// Job runs incremental updates.
type Job struct {
	cfg    Config
	clock  clock.Clock
	logger *log.Logger
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Job, error) {
	if cfg.Store == nil {
		return nil, errors.New("job: store is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("job: provider is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = types.DefaultLockStaleAfter
	}
	if cfg.StatsAttempts <= 0 {
		cfg.StatsAttempts = DefaultStatsAttempts
	}
	if cfg.StatsBackoff <= 0 {
		cfg.StatsBackoff = DefaultStatsBackoff
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	return &Job{
		cfg:    cfg,
		clock:  clock.OrReal(cfg.Clock),
		logger: log.OrNop(cfg.Logger).Named("job"),
	}, nil
}

// Run performs one update. In-progress and skipped outcomes return a nil
// error; a failed run returns its Result together with the cause.
func (j *Job) Run(ctx context.Context, opts Options) (*Result, error) {
	c := j.cfg.Collector
	now := j.clock.Now()

	lock, err := j.cfg.Store.GetLock(ctx)
	if err != nil {
		c.IncJobFailed()
		return failed(&Result{}, err), fmt.Errorf("read lock: %w", err)
	}
	if lock.Active(now, j.cfg.LockStaleAfter) {
		c.IncJobContended()
		j.logger.Info("update already in progress", map[string]any{
			"lock_started_at": lock.StartedAt,
			"pid":             lock.PID,
		})
		return &Result{Status: StatusInProgress, NextAllowedAt: lock.ExpiresAt(j.cfg.LockStaleAfter)}, nil
	}

	hist, err := j.cfg.Store.GetHistory(ctx)
	if err != nil {
		c.IncJobFailed()
		return failed(&Result{}, err), fmt.Errorf("read history: %w", err)
	}
	if !opts.Force && hist != nil && !hist.Progress.Unfinished() && !hist.GeneratedAt.IsZero() {
		if next := hist.GeneratedAt.Add(j.cfg.MinInterval); now.Before(next) {
			c.IncJobSkipped()
			j.logger.Debug("history is fresh, skipping update", map[string]any{
				"generated_at":    hist.GeneratedAt,
				"next_allowed_at": next,
			})
			return &Result{Status: StatusSkipped, User: hist.User, NextAllowedAt: next}, nil
		}
	}

	if lock != nil {
		j.logger.Warn("ignoring stale lock", map[string]any{"lock_started_at": lock.StartedAt, "pid": lock.PID})
	}
	pid := j.cfg.PID
	if err := j.cfg.Store.SetLock(ctx, &types.Lock{StartedAt: now, PID: &pid}); err != nil {
		c.IncJobFailed()
		return failed(&Result{}, err), fmt.Errorf("acquire lock: %w", err)
	}
	defer j.clearLock(ctx)

	res := &Result{RunID: j.cfg.NewRunID(), StartedAt: now}
	logger := j.logger.With(map[string]any{"run_id": res.RunID})
	c.IncJobStarted()
	logger.Info("update run started", map[string]any{"force": opts.Force})

	err = j.run(ctx, logger, hist, opts, res)
	res.FinishedAt = j.clock.Now()
	if err != nil {
		failed(res, err)
		c.IncJobFailed()
		logger.Error("update run failed", map[string]any{
			"error":           err.Error(),
			"processed_repos": res.ProcessedRepos,
			"total_repos":     res.TotalRepos,
		})
	} else {
		res.Status = StatusCompleted
		c.IncJobCompleted()
		logger.Info("update run completed", map[string]any{
			"processed_repos": res.ProcessedRepos,
			"total_repos":     res.TotalRepos,
			"resumed":         res.Resumed,
			"duration_ms":     res.FinishedAt.Sub(now).Milliseconds(),
		})
	}
	j.notify(ctx, logger, res)
	return res, err
}

func (j *Job) run(ctx context.Context, logger *log.Logger, hist *types.MetricsHistory, opts Options, res *Result) error {
	user, err := j.resolveUser(ctx, opts)
	if err != nil {
		return err
	}
	res.User = user

	listed, err := j.cfg.Provider.ListRepos(ctx, user)
	if err != nil {
		j.recordRateLimit(err)
		return fmt.Errorf("list repos: %w", err)
	}
	eligible := provider.Filter(listed, user)

	now := j.clock.Now()
	doc := hist.Clone()
	if doc == nil || doc.User != user {
		doc = &types.MetricsHistory{User: user}
	}
	doc.SchemaVersion = types.HistorySchemaVersion

	resumed := doc.Progress.Unfinished()
	if !resumed {
		doc.Progress = types.Progress{StartedAt: now}
	}
	runStart := doc.Progress.StartedAt
	done := func(r provider.Repo) bool {
		if !resumed {
			return false
		}
		i := doc.RepoIndex(r.ID)
		return i >= 0 && !doc.Repos[i].UpdatedAt.Before(runStart)
	}

	doc.Progress.TotalRepos = len(eligible)
	doc.Progress.ProcessedRepos = 0
	for _, r := range eligible {
		if done(r) {
			doc.Progress.ProcessedRepos++
		}
	}
	doc.Progress.UpdatedAt = now
	doc.Progress.FinishedAt = nil
	res.Resumed = resumed
	res.TotalRepos = doc.Progress.TotalRepos
	res.ProcessedRepos = doc.Progress.ProcessedRepos
	if resumed {
		logger.Info("resuming interrupted run", map[string]any{
			"run_started_at":  runStart,
			"processed_repos": doc.Progress.ProcessedRepos,
			"total_repos":     doc.Progress.TotalRepos,
		})
	}
	if err := j.save(ctx, doc); err != nil {
		return err
	}

	for _, r := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done(r) {
			continue
		}
		if err := j.updateRepo(ctx, logger, doc, r, user); err != nil {
			return err
		}
		res.ProcessedRepos = doc.Progress.ProcessedRepos
		j.cfg.Collector.AddReposProcessed(1)
	}

	j.updateContributions(ctx, logger, doc, user)

	doc.Repos = finalizeRepos(doc.Repos, eligible)
	finished := j.clock.Now()
	doc.GeneratedAt = finished
	doc.Progress.UpdatedAt = finished
	doc.Progress.FinishedAt = &finished
	return j.save(ctx, doc)
}

// updateRepo refreshes one repo and checkpoints the document.
func (j *Job) updateRepo(ctx context.Context, logger *log.Logger, doc *types.MetricsHistory, r provider.Repo, user string) error {
	weeks, err := j.fetchWeeks(ctx, r.FullName, user)
	if err != nil {
		if rl, ok := types.AsRateLimit(err); ok {
			j.recordRateLimit(rl)
			return fmt.Errorf("contributor stats for %s: %w", r.FullName, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("contributor stats unavailable, keeping previous weeks", map[string]any{
			"repo":  r.FullName,
			"error": err.Error(),
		})
		weeks = nil
	}

	now := j.clock.Now()
	i := doc.RepoIndex(r.ID)
	if i < 0 {
		doc.Repos = append(doc.Repos, types.RepoMetric{})
		i = len(doc.Repos) - 1
	}
	m := &doc.Repos[i]
	applyListing(m, r)

	cutoff := now.AddDate(0, 0, -j.cfg.RetentionDays)
	if weeks != nil {
		m.Weeks = mergeWeeks(m.Weeks, weeks)
	}
	m.Weeks = trimWeeks(m.Weeks, cutoff)
	m.Snapshots = upsertSnapshot(m.Snapshots, types.Snapshot{
		Date:     now.UTC().Format(types.DateLayout),
		Stars:    r.Stars,
		Forks:    r.Forks,
		PushedAt: r.PushedAt,
	})
	m.Snapshots = trimSnapshots(m.Snapshots, cutoff.UTC().Format(types.DateLayout))
	m.UpdatedAt = now

	doc.Progress.ProcessedRepos++
	doc.Progress.UpdatedAt = now
	if err := doc.Progress.Validate(); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	if err := j.save(ctx, doc); err != nil {
		return err
	}
	logger.Debug("repo checkpointed", map[string]any{
		"repo":      r.FullName,
		"processed": doc.Progress.ProcessedRepos,
		"total":     doc.Progress.TotalRepos,
	})
	return nil
}

// fetchWeeks returns the account's weekly activity in repo. A nil result
// with nil error means statistics never became available.
func (j *Job) fetchWeeks(ctx context.Context, fullName, user string) ([]types.WeekMetric, error) {
	backoff := j.cfg.StatsBackoff
	for attempt := 1; ; attempt++ {
		stats, err := j.cfg.Provider.ContributorStats(ctx, fullName)
		if err == nil {
			return accountWeeks(stats, user), nil
		}
		if !errors.Is(err, provider.ErrStatsPending) {
			return nil, err
		}
		if attempt >= j.cfg.StatsAttempts {
			j.logger.Info("contributor stats still computing, giving up for this run", map[string]any{
				"repo":     fullName,
				"attempts": attempt,
			})
			return nil, nil
		}
		if err := j.cfg.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (j *Job) updateContributions(ctx context.Context, logger *log.Logger, doc *types.MetricsHistory, user string) {
	now := j.clock.Now()
	cal, err := j.cfg.Provider.ContributionCalendar(ctx, user, now.AddDate(-1, 0, 0), now)
	if err != nil {
		j.recordRateLimit(err)
		logger.Warn("contribution calendar unavailable", map[string]any{"error": err.Error()})
		return
	}
	if cal != nil {
		doc.Contributions = cal
	}
}

func (j *Job) resolveUser(ctx context.Context, opts Options) (string, error) {
	if opts.User != "" {
		return opts.User, nil
	}
	if j.cfg.User != "" {
		return j.cfg.User, nil
	}
	acct, err := j.cfg.Provider.Viewer(ctx)
	if err != nil {
		j.recordRateLimit(err)
		return "", fmt.Errorf("resolve account: %w", err)
	}
	if acct.Login == "" {
		return "", fmt.Errorf("resolve account: empty login: %w", types.ErrConfigurationMissing)
	}
	return acct.Login, nil
}

func (j *Job) save(ctx context.Context, doc *types.MetricsHistory) error {
	if err := j.cfg.Store.SaveHistory(ctx, doc); err != nil {
		j.cfg.Collector.IncStoreWriteFailure()
		return fmt.Errorf("checkpoint: %w", err)
	}
	j.cfg.Collector.IncStoreWriteSuccess()
	return nil
}

func (j *Job) recordRateLimit(err error) {
	if j.cfg.RateLimits == nil {
		return
	}
	if rl, ok := types.AsRateLimit(err); ok {
		name := rl.Provider
		if name == "" {
			name = j.cfg.Provider.Name()
		}
		j.cfg.RateLimits.SetRateLimit(name, rl.Until, rl.Reason)
	}
}

// clearLock runs on every exit path, including cancellation.
func (j *Job) clearLock(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearLockTimeout)
	defer cancel()
	if err := j.cfg.Store.ClearLock(cctx); err != nil {
		j.logger.Error("failed to clear job lock", map[string]any{"error": err.Error()})
	}
}

func (j *Job) notify(ctx context.Context, logger *log.Logger, res *Result) {
	if j.cfg.Notifier == nil {
		return
	}
	e := adapter.NewJobCompletedEvent(res.RunID, res.FinishedAt, res.FinishedAt.Sub(res.StartedAt))
	e.User = res.User
	e.Status = string(res.Status)
	e.Store = j.cfg.StoreBackend
	e.TotalRepos = res.TotalRepos
	e.ProcessedRepos = res.ProcessedRepos
	e.Resumed = res.Resumed
	e.Error = res.Error

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := j.cfg.Notifier.Publish(nctx, e); err != nil {
		logger.Warn("job notification failed", map[string]any{"error": err.Error()})
	}
}

func failed(res *Result, err error) *Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
