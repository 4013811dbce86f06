package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"launchpad/internal/config"
)

const embeddedID = "eeeeeeee-0000-4000-8000-000000000000"

func useTestConfig(t *testing.T) {
	t.Helper()
	t.Cleanup(config.ResetForTesting(t))
}

// writeEmbedded lays out a shipped bundle on disk.
func writeEmbedded(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"manifest.json": `{
  // bundle shipped with the app
  "id": "` + embeddedID + `",
  "createdAt": "2024-01-01T00:00:00Z",
  "runtimeVersion": "1.0",
  "launchAsset": {"key": "app.js"},
  "assets": [{"key": "img/logo.png"}]
}`,
		"app.js":       "console.log('embedded')",
		"img/logo.png": "png",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	app := newApp(&stdout, io.Discard)
	err := app.Run(append([]string{"launchpad"}, args...))
	return stdout.String(), err
}

func TestCollectOverridesOnlyIncludesExplicitFlags(t *testing.T) {
	useTestConfig(t)

	app := newApp(io.Discard, io.Discard)
	var got map[string]any
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "probe",
		Flags: runCommand().Flags,
		Action: func(c *cli.Context) error {
			got = collectOverrides(c)
			return nil
		},
	})
	err := app.Run([]string{"launchpad", "--url", "https://cdn.example.com/m.json", "--disable-updates",
		"probe", "--no-check", "--command", "node app.js"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]any{
		config.KeyUpdatesURL:           "https://cdn.example.com/m.json",
		config.KeyUpdatesEnabled:       false,
		config.KeyUpdatesCheckOnLaunch: false,
		config.KeyHostCommand:          "node app.js",
	}
	if len(got) != len(want) {
		t.Fatalf("overrides = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("override %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestRunWithoutHostPrintsEmbeddedLaunch(t *testing.T) {
	useTestConfig(t)
	updates := t.TempDir()

	out, err := runApp(t, "--updates-dir", updates, "--embedded", writeEmbedded(t), "run", "--quiet")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "update:       "+embeddedID) {
		t.Fatalf("expected embedded launch in output, got:\n%s", out)
	}
	if !strings.Contains(out, filepath.Join(updates, embeddedID, "app.js")) {
		t.Fatalf("expected launch asset under the updates directory, got:\n%s", out)
	}
	if !strings.Contains(out, "assets:       2") {
		t.Fatalf("expected both assets, got:\n%s", out)
	}
}

func TestRunFailsWithoutRuntimeVersion(t *testing.T) {
	useTestConfig(t)

	_, err := runApp(t, "--updates-dir", t.TempDir(), "run", "--quiet")
	if err == nil || !strings.Contains(err.Error(), "runtime version") {
		t.Fatalf("expected runtime version error, got %v", err)
	}
}

func TestFetchWithoutSourceIsAConfigurationError(t *testing.T) {
	useTestConfig(t)

	_, err := runApp(t, "--updates-dir", t.TempDir(), "--embedded", writeEmbedded(t), "fetch", "--quiet")
	if err == nil || !strings.Contains(err.Error(), "no update source") {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	useTestConfig(t)
	updates := t.TempDir()

	out, err := runApp(t, "--updates-dir", updates, "--embedded", writeEmbedded(t), "status", "--format", "json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if report.NextLaunch != embeddedID || report.Embedded != embeddedID {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.RuntimeVersion != "1.0" || report.UpdatesDirectory != updates {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Updates) != 0 {
		t.Fatalf("expected no downloaded updates, got %+v", report.Updates)
	}
}

func TestVersionCommand(t *testing.T) {
	useTestConfig(t)

	out, err := runApp(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "launchpad version") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestFormatStageMessage(t *testing.T) {
	tests := []struct {
		stage, detail, want string
	}{
		{stageLaunching, "", "Fuelling the rocket..."},
		{stageDownloading, "1/3", "Loading cargo... - 1/3"},
		{"unknown", "  ", "Preparing for lift-off..."},
	}
	for _, tt := range tests {
		if got := formatStageMessage(tt.stage, tt.detail); got != tt.want {
			t.Errorf("formatStageMessage(%q, %q) = %q, want %q", tt.stage, tt.detail, got, tt.want)
		}
	}
}
