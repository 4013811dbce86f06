package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"launchpad/internal/launcher"
)

// Environment handed to the hosted command.
const (
	EnvLaunchAsset = "LAUNCHPAD_LAUNCH_ASSET"
	EnvAssets      = "LAUNCHPAD_ASSETS"
	EnvUpdateID    = "LAUNCHPAD_UPDATE_ID"
	EnvEmbedded    = "LAUNCHPAD_EMBEDDED"
	EnvEmergency   = "LAUNCHPAD_EMERGENCY"
)

const teardownGrace = 5 * time.Second

// sessionExit reports a hosted command that ended on its own.
type sessionExit struct {
	updateID string
	err      error
}

// execHost runs one command per launch. Teardown stops the current
// command; a command that exits by itself is reported on exits.
type execHost struct {
	argv   []string
	stdout io.Writer
	stderr io.Writer
	grace  time.Duration
	log    logrus.FieldLogger

	mu    sync.Mutex
	cmd   *exec.Cmd
	done  chan struct{}
	exits chan sessionExit
}

func newExecHost(command string, stdout, stderr io.Writer, log logrus.FieldLogger) (*execHost, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("host command is empty")
	}
	return &execHost{
		argv:   argv,
		stdout: stdout,
		stderr: stderr,
		grace:  teardownGrace,
		log:    log,
		exits:  make(chan sessionExit, 1),
	}, nil
}

// launchEnv is the environment describing launch.
func launchEnv(launch launcher.Launch) ([]string, error) {
	assets, err := json.Marshal(launch.AssetFiles)
	if err != nil {
		return nil, fmt.Errorf("encode asset map: %w", err)
	}
	return []string{
		EnvLaunchAsset + "=" + launch.LaunchAssetPath,
		EnvAssets + "=" + string(assets),
		EnvUpdateID + "=" + launch.Update.ID,
		fmt.Sprintf("%s=%t", EnvEmbedded, launch.Embedded),
		fmt.Sprintf("%s=%t", EnvEmergency, launch.Emergency),
	}, nil
}

// Load implements controller.Host.
func (h *execHost) Load(launch launcher.Launch) error {
	env, err := launchEnv(launch)
	if err != nil {
		return err
	}
	cmd := exec.Command(h.argv[0], h.argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", h.argv[0], err)
	}

	done := make(chan struct{})
	h.mu.Lock()
	h.cmd, h.done = cmd, done
	h.mu.Unlock()
	h.log.WithField("pid", cmd.Process.Pid).WithField("update", launch.Update.ID).Info("session started")

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		current := h.cmd == cmd
		if current {
			h.cmd, h.done = nil, nil
		}
		h.mu.Unlock()
		close(done)
		if current {
			h.exits <- sessionExit{updateID: launch.Update.ID, err: err}
		}
	}()
	return nil
}

// Teardown implements controller.Host.
func (h *execHost) Teardown() {
	h.mu.Lock()
	cmd, done := h.cmd, h.done
	h.cmd, h.done = nil, nil
	h.mu.Unlock()
	if cmd == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(h.grace):
		h.log.WithField("pid", cmd.Process.Pid).Warn("session ignored SIGTERM; killing")
		_ = cmd.Process.Kill()
		<-done
	}
}

// Exited delivers sessions that ended without a Teardown.
func (h *execHost) Exited() <-chan sessionExit {
	return h.exits
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
