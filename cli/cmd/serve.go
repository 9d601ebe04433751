package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/pulse/job"
	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/status"
)

const purgeInterval = 10 * time.Minute

// ServeCommand runs the status server and the scheduled update job.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the status endpoints and run scheduled updates",
		Flags: withFlags(GlobalFlags(), []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address (default from config)"},
			&cli.StringFlag{Name: "schedule", Usage: "Cron expression for updates; empty disables"},
		}),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	if c.IsSet("schedule") {
		cfg.Job.Schedule = c.String("schedule")
	}
	var schedule *cronexpr.Expression
	if cfg.Job.Schedule != "" {
		if schedule, err = cronexpr.Parse(cfg.Job.Schedule); err != nil {
			return cli.Exit(fmt.Sprintf("invalid schedule %q: %v", cfg.Job.Schedule, err), exitConfig)
		}
	}

	logger := newLogger(c, cfg)
	ctx, stop := signalContext(c.Context)
	defer stop()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	var trigger *job.Trigger
	if d.job != nil {
		trigger = job.NewTrigger(d.job, d.cache)
		defer trigger.Close()
	} else {
		logger.Warn("update job disabled", map[string]any{"error": d.providerErr.Error()})
	}

	srv, err := status.New(status.Config{
		Cache:          d.cache,
		Store:          d.store.Store,
		Provider:       d.provider,
		ProviderErr:    d.providerErr,
		Trigger:        trigger,
		Logger:         logger,
		Collector:      d.collector,
		MetricsTTL:     cfg.Cache.MetricsTTL.Duration,
		MetricsStale:   cfg.Cache.MetricsStale.Duration,
		AccountTTL:     cfg.Cache.AccountTTL.Duration,
		AccountStale:   cfg.Cache.AccountStale.Duration,
		ManualCooldown: cfg.Cache.ManualRefreshCooldown.Duration,
		LockStaleAfter: cfg.Job.LockStale.Duration,
	})
	if err != nil {
		return err
	}

	logger.Info("starting", map[string]any{
		"listen":    cfg.Listen,
		"store":     d.store.Backend,
		"fell_back": d.store.FellBack,
		"schedule":  cfg.Job.Schedule,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Listen)
	})
	g.Go(func() error {
		purgeLoop(gctx, d, purgeInterval)
		return nil
	})
	if schedule != nil && trigger != nil {
		g.Go(func() error {
			scheduleLoop(gctx, schedule, trigger, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// scheduleLoop runs the update job at every schedule tick until ctx is done.
// Ticks that land while a run is in flight join it.
func scheduleLoop(ctx context.Context, expr *cronexpr.Expression, trigger *job.Trigger, logger *log.Logger) {
	for {
		now := time.Now()
		next := expr.Next(now)
		if next.IsZero() {
			logger.Warn("schedule has no future ticks", nil)
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		res, shared, err := trigger.Run(ctx, job.Options{})
		fields := map[string]any{"shared": shared}
		if res != nil {
			fields["status"] = string(res.Status)
			fields["run_id"] = res.RunID
			fields["processed_repos"] = res.ProcessedRepos
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.Warn("scheduled update failed", fields)
			continue
		}
		logger.Info("scheduled update finished", fields)
	}
}

// purgeLoop drops cache entries past their stale window.
func purgeLoop(ctx context.Context, d *deps, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := d.cache.Purge(); n > 0 {
				d.logger.Debug("purged cache entries", map[string]any{"count": n})
			}
		}
	}
}
