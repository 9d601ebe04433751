package cmd

import (
	"context"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/cli/config"
	"github.com/pithecene-io/pulse/cli/render"
	"github.com/pithecene-io/pulse/client"
	"github.com/pithecene-io/pulse/status"
)

// StatusCommand fetches one status envelope from a running server.
// An envelope carrying an error exits 1 after it is printed.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show metrics or account status from a running server",
		Flags: withFlags(GlobalFlags(), OutputFlags(), []cli.Flag{
			URLFlag,
			&cli.BoolFlag{Name: "refresh", Usage: "Request a manual refresh (subject to cooldown)"},
			&cli.BoolFlag{Name: "account", Usage: "Show the account feed instead of metrics"},
		}),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	base := serverURL(c, cfg)

	if c.Bool("account") {
		return fetchAndRender(c.Context, r, client.HTTPFetcher[client.AccountStatus](base+status.PathAccount, nil), c.Bool("refresh"))
	}
	return fetchAndRender(c.Context, r, client.HTTPFetcher[client.MetricsStatus](base+status.PathMetrics, nil), c.Bool("refresh"))
}

type enveloped interface {
	ErrorOf() string
}

func fetchAndRender[T enveloped](ctx context.Context, r *render.Renderer, fetch client.Fetcher[T], force bool) error {
	v, err := fetch(ctx, force)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if err := r.Render(v); err != nil {
		return err
	}
	if msg := v.ErrorOf(); msg != "" {
		return cli.Exit(msg, exitFailed)
	}
	return nil
}

func serverURL(c *cli.Context, cfg *config.Config) string {
	u := cfg.Client.URL
	if v := c.String("url"); v != "" {
		u = v
	}
	return strings.TrimRight(u, "/")
}
