package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/cli/config"
	"github.com/pithecene-io/pulse/cli/render"
	"github.com/pithecene-io/pulse/cli/tui"
	"github.com/pithecene-io/pulse/client"
	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/status"
)

// WatchCommand polls the metrics feed, faster while an update is running.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Follow metrics status from a running server",
		Flags:  withFlags(GlobalFlags(), OutputFlags(), []cli.Flag{URLFlag, TUIFlag}),
		Action: watchAction,
	}
}

// WatchLine is one rendered snapshot in non-interactive mode.
type WatchLine struct {
	State     client.State          `json:"state"`
	Freshness client.Level          `json:"freshness"`
	IsCached  bool                  `json:"isCached"`
	Error     string                `json:"error,omitempty"`
	Data      *client.MetricsStatus `json:"data,omitempty"`
}

func watchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	defer logger.Sync()

	base := serverURL(c, cfg)
	store, err := newMetricsClient(cfg, base, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	if c.Bool("tui") {
		return tui.RunWatch(store, base)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	var mu sync.Mutex
	var renderErr error
	unsubscribe := store.Subscribe(func(s client.Snapshot[client.MetricsStatus]) {
		mu.Lock()
		defer mu.Unlock()
		if renderErr != nil {
			return
		}
		renderErr = r.Render(watchLine(s))
	})
	<-ctx.Done()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	return renderErr
}

func watchLine(s client.Snapshot[client.MetricsStatus]) WatchLine {
	line := WatchLine{
		State:     s.State,
		Freshness: client.Freshness(s, func(m client.MetricsStatus) bool { return m.Stale }),
		IsCached:  s.IsCached,
		Data:      s.Data,
	}
	if s.Err != "" {
		line.Error = s.Err
	}
	return line
}

func newMetricsClient(cfg *config.Config, base string, logger *log.Logger) (*client.Store[client.MetricsStatus], error) {
	path := cfg.Client.CacheFile
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locate cache dir: %w", err)
		}
		path = filepath.Join(dir, "pulse", "metrics.msgpack")
	}
	return client.New(client.Config[client.MetricsStatus]{
		Fetch:       client.HTTPFetcher[client.MetricsStatus](base+status.PathMetrics, nil),
		Persister:   client.NewFilePersister[client.MetricsStatus](path),
		CacheMaxAge: cfg.Client.CacheMaxAge.Duration,
		Delay:       client.MetricsPollDelay(cfg.Client.BusyPoll.Duration, cfg.Client.IdlePoll.Duration, nil),
		IdleDelay:   cfg.Client.IdlePoll.Duration,
		ErrorOf:     client.MetricsStatus.ErrorOf,
		Logger:      logger,
	})
}
