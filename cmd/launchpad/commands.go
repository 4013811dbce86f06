package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"launchpad/internal/controller"
	"launchpad/internal/logging"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "launch the best available update and check for a newer one",
		Description: "Runs --command with the launched bundle described in its environment. " +
			"SIGHUP relaunches against the newest downloaded update. Without a command the " +
			"launch is printed and launchpad exits once the update check finished.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "command", Usage: "command hosting the launched bundle"},
			&cli.BoolFlag{Name: "no-check", Usage: "skip the update check after launching"},
			&cli.BoolFlag{Name: "quiet", Usage: "do not show the launch screen"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	log := logging.New("cli")

	var host *execHost
	var opts []controller.Option
	if settings.HostCommand != "" {
		host, err = newExecHost(settings.HostCommand, c.App.Writer, c.App.ErrWriter, logging.New("host"))
		if err != nil {
			return err
		}
		opts = append(opts, controller.WithHost(host))
	}

	sess, err := newSession(c.Context, settings, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	scr := newScreen(c.App.ErrWriter, c.Bool("quiet"))
	scr.Stage(stageLaunching, "")
	sess.controller.StartAndShowLaunchScreen(c.Context, scr)
	ok, err := sess.awaitStart(c.Context)
	if err != nil {
		return err
	}
	if _, launched := sess.controller.LaunchedUpdate(); !launched {
		return cli.Exit("nothing could be launched", 1)
	}
	if !ok {
		log.Warn("launch completed in a degraded state")
	}

	if host == nil {
		printLaunch(c.App.Writer, sess.controller)
		sess.controller.Wait()
		return nil
	}
	return superviseHost(c, sess, host)
}

// superviseHost keeps launchpad alive for the hosted session. SIGHUP
// relaunches, cancellation tears the session down, and the session's own
// exit status becomes launchpad's.
func superviseHost(c *cli.Context, sess *session, host *execHost) error {
	log := logging.New("cli")
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-c.Context.Done():
			host.Teardown()
			return nil
		case <-hup:
			if !sess.controller.RequestRelaunch(c.Context) {
				log.Info("relaunch already in progress")
			}
		case ok := <-sess.started:
			u, _ := sess.controller.LaunchedUpdate()
			log.WithField("update", u.ID).WithField("success", ok).Info("relaunched")
		case exit := <-host.Exited():
			log.WithField("update", exit.updateID).WithError(exit.err).Info("session exited")
			if code := exitCode(exit.err); code != 0 {
				return cli.Exit("", code)
			}
			return nil
		}
	}
}

func printLaunch(w io.Writer, ctrl *controller.Controller) {
	u, _ := ctrl.LaunchedUpdate()
	path, _ := ctrl.LaunchAssetPath()
	_, _ = fmt.Fprintf(w, "update:       %s\n", u.ID)
	_, _ = fmt.Fprintf(w, "launch asset: %s\n", path)
	_, _ = fmt.Fprintf(w, "assets:       %d\n", len(ctrl.LocalAssets()))
	if ctrl.IsEmergencyLaunch() {
		_, _ = fmt.Fprintln(w, "emergency launch: some assets are missing")
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "report whether the remote manifest describes a newer update",
		Action: func(c *cli.Context) error {
			sess, err := startForeground(c, nil)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			result, err := sess.controller.CheckForUpdate(c.Context)
			if err != nil {
				return err
			}
			if result.Available {
				_, _ = fmt.Fprintf(c.App.Writer, "update available: %s (committed %s)\n",
					result.Update.ID, result.Update.CommitTime.Format("2006-01-02 15:04:05"))
				return nil
			}
			_, _ = fmt.Fprintln(c.App.Writer, "up to date")
			return nil
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "download the remote update for the next launch",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Usage: "do not show progress"},
		},
		Action: func(c *cli.Context) error {
			scr := newScreen(c.App.ErrWriter, c.Bool("quiet"))
			defer scr.Stop()

			sess, err := startForeground(c, []controller.Option{controller.WithProgress(scr.Progress)})
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			scr.Stage(stageChecking, sess.settings.ManifestURL)
			result, err := sess.controller.FetchUpdate(c.Context)
			scr.Stop()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "%s: %s\n", result.Kind, result.Update.ID)
			return nil
		},
	}
}

// startForeground starts a controller that only resolves the current
// launch, so foreground commands compare against what would run.
func startForeground(c *cli.Context, opts []controller.Option) (*session, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	settings.CheckOnLaunch = false
	sess, err := newSession(c.Context, settings, opts...)
	if err != nil {
		return nil, err
	}
	sess.controller.Start(c.Context)
	if _, err := sess.awaitStart(c.Context); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return sess, nil
}
