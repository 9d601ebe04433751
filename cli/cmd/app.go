package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/adapter"
	"github.com/pithecene-io/pulse/adapter/redis"
	"github.com/pithecene-io/pulse/adapter/webhook"
	"github.com/pithecene-io/pulse/cache"
	"github.com/pithecene-io/pulse/cli/config"
	"github.com/pithecene-io/pulse/job"
	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/metrics"
	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/provider/github"
	"github.com/pithecene-io/pulse/store/resolve"
	"github.com/pithecene-io/pulse/types"
)

// NewApp builds the pulse CLI.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "pulse",
		Usage:   "Telemetry cache and refresh coordination for repository metrics",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			UpdateCommand(),
			StatusCommand(),
			WatchCommand(),
			StoreCommand(),
			VersionCommand(commit),
		},
	}
}

// loadConfig resolves file and env configuration, then applies the
// global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) *log.Logger {
	return log.NewLoggerWithWriter("pulse", c.App.ErrWriter, log.ParseLevel(cfg.LogLevel))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// deps is the wired server-side object graph shared by serve and update.
type deps struct {
	cfg         *config.Config
	logger      *log.Logger
	store       *resolve.Resolved
	provider    provider.Provider
	providerErr error
	notifier    adapter.Adapter
	cache       *cache.Store
	collector   *metrics.Collector
	job         *job.Job
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *log.Logger) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger, cache: cache.New(nil)}

	resolved, err := resolve.Open(ctx, cfg.StoreSettings(), logger)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	d.store = resolved

	gh, err := github.New(github.Config{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.APIURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
	})
	if err != nil {
		d.providerErr = err
	} else {
		d.provider = gh
	}

	d.notifier, err = newNotifier(cfg.Notify)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}

	d.collector = metrics.NewCollector(resolved.Backend, github.Name)
	if d.provider != nil {
		d.job, err = job.New(job.Config{
			Store:          resolved.Store,
			Provider:       d.provider,
			Logger:         logger,
			Collector:      d.collector,
			Notifier:       d.notifier,
			RateLimits:     d.cache,
			StoreBackend:   resolved.Backend,
			User:           cfg.GitHub.User,
			RetentionDays:  cfg.Job.RetentionDays,
			MinInterval:    cfg.Job.MinInterval.Duration,
			LockStaleAfter: cfg.Job.LockStale.Duration,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// requireJob reports the provider configuration error when no job could
// be built.
func (d *deps) requireJob() error {
	if d.job != nil {
		return nil
	}
	err := d.providerErr
	if err == nil {
		err = types.ErrConfigurationMissing
	}
	return cli.Exit(fmt.Sprintf("update job unavailable: %v", err), exitConfig)
}

func (d *deps) Close() {
	if d.notifier != nil {
		if err := d.notifier.Close(); err != nil {
			d.logger.Warn("close notifier", map[string]any{"error": err.Error()})
		}
	}
	if d.store != nil {
		if err := d.store.Store.Close(); err != nil {
			d.logger.Warn("close metrics store", map[string]any{"error": err.Error()})
		}
	}
	d.logger.Sync()
}

func newNotifier(cfg config.NotifyConfig) (adapter.Adapter, error) {
	retries := func(def int) int {
		if cfg.Retries != nil {
			return *cfg.Retries
		}
		return def
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		a, err := redis.New(redis.Config{
			URL:        cfg.URL,
			Channel:    cfg.Channel,
			HistoryKey: cfg.HistoryKey,
			HistoryLen: cfg.HistoryLen,
			Timeout:    cfg.Timeout.Duration,
			Retries:    retries(redis.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, errors.New("unknown notifier type: " + cfg.Type)
	}
}
