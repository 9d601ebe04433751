// Package main provides the pulse CLI entrypoint.
//
// Usage:
//
//	pulse <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: command failed
//   - 2: configuration error
//   - 3: update lock held by another run
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pulse/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

// osExit is replaced in tests.
var osExit = os.Exit

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		exitErrHandler(os.Stderr, err)
	}

	if err := app.Run(os.Args); err != nil {
		// Errors that are not cli.ExitCoder reach here after the handler.
		osExit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit, including wrapped ones.
func exitErrHandler(w io.Writer, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is "exit status N"; don't print that.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			_, _ = fmt.Fprintln(w, msg)
		}
		osExit(code)
		return
	}

	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	osExit(1)
}
