package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/cli/config"
	"github.com/pithecene-io/pulse/cli/render"
	"github.com/pithecene-io/pulse/status"
	"github.com/pithecene-io/pulse/store/resolve"
)

// StoreCommand inspects and repairs the metrics store directly.
func StoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Inspect the metrics store",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Summarize the stored history and lock",
				Flags:  withFlags(GlobalFlags(), OutputFlags()),
				Action: storeShowAction,
			},
			{
				Name:   "clear-lock",
				Usage:  "Remove the job lock left by a crashed run",
				Flags:  withFlags(GlobalFlags(), OutputFlags()),
				Action: storeClearLockAction,
			},
		},
	}
}

// StoreReport is the output of `store show`.
type StoreReport struct {
	Backend   string `json:"backend"`
	Requested string `json:"requested"`
	FellBack  bool   `json:"fellBack"`
	Reason    string `json:"reason,omitempty"`
	status.MetricsSummary
}

// LockReport is the output of `store clear-lock`.
type LockReport struct {
	Backend string     `json:"backend"`
	Cleared bool       `json:"cleared"`
	PID     *int       `json:"pid,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
}

func openStore(c *cli.Context) (*config.Config, *resolve.Resolved, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(c, cfg)
	resolved, err := resolve.Open(c.Context, cfg.StoreSettings(), logger)
	if err != nil {
		return nil, nil, nil, cli.Exit(fmt.Sprintf("open metrics store: %v", err), exitFailed)
	}
	closeFn := func() {
		if err := resolved.Store.Close(); err != nil {
			logger.Warn("close metrics store", map[string]any{"error": err.Error()})
		}
		logger.Sync()
	}
	return cfg, resolved, closeFn, nil
}

func storeShowAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	cfg, resolved, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := c.Context
	hist, err := resolved.Store.GetHistory(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("read history: %v", err), exitFailed)
	}
	lock, err := resolved.Store.GetLock(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("read lock: %v", err), exitFailed)
	}

	var reason string
	if resolved.Reason != nil {
		reason = resolved.Reason.Error()
	}
	return r.Render(StoreReport{
		Backend:        resolved.Backend,
		Requested:      resolved.Requested,
		FellBack:       resolved.FellBack,
		Reason:         reason,
		MetricsSummary: status.Summarize(hist, lock, time.Now(), cfg.Job.LockStale.Duration, status.DefaultTopRepos),
	})
}

func storeClearLockAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	_, resolved, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := c.Context
	lock, err := resolved.Store.GetLock(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("read lock: %v", err), exitFailed)
	}
	report := LockReport{Backend: resolved.Backend}
	if lock != nil {
		if err := resolved.Store.ClearLock(ctx); err != nil {
			return cli.Exit(fmt.Sprintf("clear lock: %v", err), exitFailed)
		}
		report.Cleared = true
		report.PID = lock.PID
		since := lock.StartedAt
		report.Since = &since
	}
	return r.Render(report)
}
