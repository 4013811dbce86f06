package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"launchpad/internal/config"
	"launchpad/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		stop()
		os.Exit(exitStatus(err))
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		printVersion(c.App.Writer)
	}
	return &cli.App{
		Name:      "launchpad",
		Usage:     "launch the newest downloaded update of a bundle and keep it current",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,

		// Exit codes are applied by main once deferred cleanup has run.
		ExitErrHandler: func(*cli.Context, error) {},

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "project config file (default: nearest .launchpad/config.yaml)"},
			&cli.StringFlag{Name: "url", Usage: "manifest URL (http, https or s3)"},
			&cli.StringFlag{Name: "runtime-version", Usage: "runtime version updates must target"},
			&cli.StringFlag{Name: "updates-dir", Usage: "directory holding the catalog and downloaded assets"},
			&cli.StringFlag{Name: "embedded", Usage: "directory of the bundle shipped with the application"},
			&cli.StringFlag{Name: "scope-key", Usage: "override the scope key derived from the manifest URL"},
			&cli.BoolFlag{Name: "disable-updates", Usage: "launch the embedded bundle only"},
			&cli.BoolFlag{Name: "debug", Usage: "write a debug log to ~/.launchpad/debug.log"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (trace, debug, info, warn, error)"},
		},
		Before: func(c *cli.Context) error {
			var opts []config.Option
			if path := c.String("config"); path != "" {
				opts = append(opts, config.WithProjectConfig(path))
			}
			if err := config.Initialize(opts...); err != nil {
				return fmt.Errorf("initialize config: %w", err)
			}
			return nil
		},
		After: func(*cli.Context) error {
			logging.CloseDebug()
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			checkCommand(),
			fetchCommand(),
			statusCommand(),
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					printVersion(c.App.Writer)
					return nil
				},
			},
		},
	}
}

// flagKeys maps string flags onto configuration keys.
var flagKeys = map[string]string{
	"url":             config.KeyUpdatesURL,
	"runtime-version": config.KeyUpdatesRuntimeVersion,
	"updates-dir":     config.KeyUpdatesDirectory,
	"embedded":        config.KeyEmbeddedPath,
	"scope-key":       config.KeyUpdatesScopeKey,
	"log-level":       config.KeyLogLevel,
	"command":         config.KeyHostCommand,
}

// collectOverrides returns the configuration values set explicitly on the
// command line.
func collectOverrides(c *cli.Context) map[string]any {
	overrides := map[string]any{}
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	if c.IsSet("disable-updates") {
		overrides[config.KeyUpdatesEnabled] = !c.Bool("disable-updates")
	}
	if c.IsSet("no-check") {
		overrides[config.KeyUpdatesCheckOnLaunch] = !c.Bool("no-check")
	}
	if c.IsSet("debug") {
		overrides[config.KeyDebug] = c.Bool("debug")
	}
	return overrides
}

// loadSettings applies command line overrides, snapshots the
// configuration and configures logging from it.
func loadSettings(c *cli.Context) (config.Settings, error) {
	if err := config.ApplyOverrides(collectOverrides(c)); err != nil {
		return config.Settings{}, err
	}
	settings, err := config.Load()
	if err != nil {
		return config.Settings{}, err
	}

	_ = logging.Set(logging.Output(c.App.ErrWriter))
	_ = logging.Set(logging.Level(settings.LogLevel))
	if settings.Debug {
		if err := logging.InitDebug(true); err != nil {
			return config.Settings{}, fmt.Errorf("initialize debug log: %w", err)
		}
	}
	return settings, nil
}

func exitStatus(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}
