// Package cmd provides the pulse CLI commands.
package cmd

import "github.com/urfave/cli/v2"

var (
	// ConfigFlag points at a YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to pulse.yaml (default: ./pulse.yaml when present)",
		EnvVars: []string{"PULSE_CONFIG"},
	}

	// LogLevelFlag overrides the configured log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored table output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea view. Only watch supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Interactive TUI (watch only)",
	}

	// URLFlag points read-only commands at a running server.
	URLFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "Base URL of a running pulse server (default from config)",
	}
)

// GlobalFlags are accepted by every command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, LogLevelFlag}
}

// OutputFlags are shared by commands that render results.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
