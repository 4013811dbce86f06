package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"launchpad/internal/catalog"
	"launchpad/internal/config"
	"launchpad/internal/domain"
	"launchpad/internal/launcher"
	"launchpad/internal/logging"
	"launchpad/internal/policy"
)

const statusWidth = 100

// statusReport describes the local update state.
type statusReport struct {
	UpdatesDirectory string          `json:"updatesDirectory" yaml:"updatesDirectory"`
	RuntimeVersion   string          `json:"runtimeVersion" yaml:"runtimeVersion"`
	ManifestURL      string          `json:"manifestUrl,omitempty" yaml:"manifestUrl,omitempty"`
	Enabled          bool            `json:"enabled" yaml:"enabled"`
	NextLaunch       string          `json:"nextLaunch,omitempty" yaml:"nextLaunch,omitempty"`
	Embedded         string          `json:"embedded,omitempty" yaml:"embedded,omitempty"`
	Updates          []updateSummary `json:"updates" yaml:"updates"`
}

type updateSummary struct {
	ID          string    `json:"id" yaml:"id"`
	Status      string    `json:"status" yaml:"status"`
	Runtime     string    `json:"runtimeVersion" yaml:"runtimeVersion"`
	CommitTime  time.Time `json:"commitTime" yaml:"commitTime"`
	Development bool      `json:"development,omitempty" yaml:"development,omitempty"`
	Assets      int       `json:"assets" yaml:"assets"`
	Downloaded  int       `json:"downloaded" yaml:"downloaded"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show downloaded updates and which one launches next",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "text", Usage: "output format (text, plain, json, yaml)"},
		},
		Action: func(c *cli.Context) error {
			settings, err := loadSettings(c)
			if err != nil {
				return err
			}
			report, err := buildStatus(c.Context, settings)
			if err != nil {
				return err
			}
			return renderStatus(c.App.Writer, report, c.String("format"))
		},
	}
}

func summarize(u domain.Update) updateSummary {
	downloaded := 0
	for _, a := range u.Assets {
		if a.IsDownloaded() {
			downloaded++
		}
	}
	return updateSummary{
		ID:          u.ID,
		Status:      string(u.Status),
		Runtime:     u.RuntimeVersion,
		CommitTime:  u.CommitTime,
		Development: u.IsDevelopment,
		Assets:      len(u.Assets),
		Downloaded:  downloaded,
	}
}

// buildStatus reads the catalog and asks the launcher what it would
// launch now.
func buildStatus(ctx context.Context, s config.Settings) (statusReport, error) {
	embedded, err := loadEmbedded(s.EmbeddedPath)
	if err != nil {
		return statusReport{}, err
	}
	cons := constraints(s, embedded)
	report := statusReport{
		UpdatesDirectory: s.UpdatesDirectory,
		RuntimeVersion:   cons.RuntimeVersion,
		ManifestURL:      s.ManifestURL,
		Enabled:          s.Enabled,
		Embedded:         embedded.Update.ID,
		Updates:          []updateSummary{},
	}

	cat, err := catalog.Open(ctx, filepath.Join(s.UpdatesDirectory, catalog.DefaultFileName),
		catalog.WithLogger(logging.New("catalog")))
	if err != nil {
		return statusReport{}, err
	}
	defer func() { _ = cat.Close() }()

	updates, err := cat.AllUpdates(ctx)
	if err != nil {
		return statusReport{}, err
	}
	policy.Sort(updates)
	for _, u := range updates {
		report.Updates = append(report.Updates, summarize(u))
	}

	l := launcher.New(cat, policy.Newest{}, embedded,
		launcher.WithUpdatesDirectory(s.UpdatesDirectory),
		launcher.WithConstraints(cons),
		launcher.WithLogger(logging.New("launcher")),
	)
	if next, ok := l.LaunchableUpdate(ctx); ok {
		report.NextLaunch = next.ID
	}
	return report, nil
}

func renderStatus(w io.Writer, report statusReport, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "", "text", "plain":
		render := buildMarkdownRenderer(format, statusWidth)
		_, err := fmt.Fprintln(w, render(statusMarkdown(report)))
		return err
	default:
		return fmt.Errorf("unknown format %q (want text, plain, json or yaml)", format)
	}
}

func statusMarkdown(r statusReport) string {
	var b strings.Builder
	b.WriteString("# Updates\n\n")
	fmt.Fprintf(&b, "- **Directory:** `%s`\n", r.UpdatesDirectory)
	fmt.Fprintf(&b, "- **Runtime version:** %s\n", orNone(r.RuntimeVersion))
	fmt.Fprintf(&b, "- **Manifest:** %s\n", orNone(r.ManifestURL))
	fmt.Fprintf(&b, "- **Updates enabled:** %t\n", r.Enabled)
	fmt.Fprintf(&b, "- **Embedded bundle:** %s\n", orNone(r.Embedded))
	fmt.Fprintf(&b, "- **Next launch:** %s\n\n", orNone(r.NextLaunch))

	if len(r.Updates) == 0 {
		b.WriteString("No updates downloaded yet.\n")
		return b.String()
	}
	b.WriteString("| Update | Status | Runtime | Committed | Assets |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, u := range r.Updates {
		id := u.ID
		if u.ID == r.NextLaunch {
			id = "**" + id + "**"
		}
		if u.Development {
			id += " (dev)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d/%d |\n",
			id, u.Status, u.Runtime, u.CommitTime.Format("2006-01-02 15:04"), u.Downloaded, u.Assets)
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "_none_"
	}
	return s
}

// buildMarkdownRenderer renders with glamour, falling back to plain word
// wrapping when the style is plain or glamour fails.
func buildMarkdownRenderer(format string, width int) func(string) string {
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}

	style := strings.ToLower(strings.TrimSpace(format))
	if style == "" || style == "text" {
		style = "dark"
	}
	if style == "plain" {
		return fallback
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return fallback(input)
		}
		return strings.TrimSpace(out)
	}
}
