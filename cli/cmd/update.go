package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/cli/render"
	"github.com/pithecene-io/pulse/job"
)

// UpdateCommand runs one incremental update in the foreground.
//
// Exit codes:
//   - 0: completed or skipped
//   - 1: failed
//   - 2: configuration error
//   - 3: another run holds the lock
func UpdateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Run one incremental metrics update",
		Flags: withFlags(GlobalFlags(), OutputFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Ignore the minimum interval between runs"},
			&cli.StringFlag{Name: "user", Usage: "Account to collect (default: token owner)"},
		}),
		Action: updateAction,
	}
}

func updateAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	ctx, stop := signalContext(c.Context)
	defer stop()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.requireJob(); err != nil {
		return err
	}

	res, runErr := d.job.Run(ctx, job.Options{Force: c.Bool("force"), User: c.String("user")})
	if res != nil {
		if err := r.Render(res); err != nil {
			return err
		}
	}
	switch {
	case runErr != nil:
		return cli.Exit(runErr.Error(), exitFailed)
	case res.Status == job.StatusInProgress:
		return cli.Exit("", exitContended)
	}
	return nil
}
