package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"launchpad/internal/controller"
)

// Colors - a nice purple/magenta theme
var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	textColor      = lipgloss.Color("#F8F8F2")
	successColor   = lipgloss.Color("#50FA7B")
	failureColor   = lipgloss.Color("#FF5555")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	statusStyle = lipgloss.NewStyle().
			Foreground(textColor)

	countStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor)

	failureStyle = lipgloss.NewStyle().
			Foreground(failureColor)

	containerStyle = lipgloss.NewStyle().
			Padding(1, 2)
)

const logo = `
   █   ▄▀▄ █ █ █▄ █ ▄▀▀ █▄█ █▀▄ ▄▀▄ █▀▄
   █▄▄ █▀█ ▀▄█ █ ▀█ ▀▄▄ █ █ █▀  █▀█ █▄▀
`

// Stage names shown by the launch screens.
const (
	stageLaunching   = "launching"
	stageChecking    = "checking"
	stageDownloading = "downloading"
)

// screen is shown while a launch or a foreground fetch is in progress.
type screen interface {
	controller.LaunchScreen
	Stage(stage, detail string)
	Progress(finished, total int)
	Stop()
}

// newScreen picks the richest screen the writer supports. Writers that
// are not terminals get no screen at all.
func newScreen(w io.Writer, quiet bool) screen {
	if quiet {
		return nopScreen{}
	}
	if termenv.NewOutput(w).Profile == termenv.Ascii {
		if termenv.EnvNoColor() {
			return newStartupSpinner(w, defaultSpinnerDelay)
		}
		return nopScreen{}
	}
	return NewLaunchDisplay(w)
}

type nopScreen struct{}

func (nopScreen) Dismiss(bool)         {}
func (nopScreen) Stage(string, string) {}
func (nopScreen) Progress(int, int)    {}
func (nopScreen) Stop()                {}

// launchModel is the bubbletea model for the launch screen
type launchModel struct {
	spinner  spinner.Model
	progress progress.Model

	stage      string
	detail     string
	current    int
	total      int
	isProgress bool // true when showing progress bar instead of spinner

	width   int
	ready   bool
	done    bool
	success bool
	cleared bool

	// Channel to receive updates from main goroutine
	updates chan screenUpdate
}

type screenUpdate struct {
	stage      string
	detail     string
	current    int
	total      int
	isProgress bool
	done       bool
	success    bool
	clear      bool
}

type updateMsg screenUpdate

func newLaunchModel() *launchModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &launchModel{
		spinner:  s,
		progress: p,
		stage:    stageLaunching,
		updates:  make(chan screenUpdate, 16),
	}
}

func (m *launchModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdate(),
	)
}

func (m *launchModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-m.updates)
	}
}

func (m *launchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.ready = true
		return m, nil

	case updateMsg:
		if msg.done {
			m.done = true
			m.success = msg.success
			m.cleared = msg.clear
			return m, tea.Quit
		}
		m.stage = msg.stage
		m.detail = msg.detail
		m.current = msg.current
		m.total = msg.total
		m.isProgress = msg.isProgress

		var cmds []tea.Cmd
		if m.isProgress && m.total > 0 {
			cmds = append(cmds, m.progress.SetPercent(float64(m.current)/float64(m.total)))
		}
		cmds = append(cmds, m.waitForUpdate())
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *launchModel) View() string {
	if !m.ready || m.cleared {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(logo))
	b.WriteString("\n")

	switch {
	case m.done && m.success:
		b.WriteString(successStyle.Render("✓ Launched"))
	case m.done:
		b.WriteString(failureStyle.Render("✗ Launch failed"))
	case m.isProgress && m.total > 0:
		b.WriteString(m.progress.View())
		b.WriteString("\n")
		b.WriteString(countStyle.Render(fmt.Sprintf("%s %d / %d", formatStageMessage(m.stage, ""), m.current, m.total)))
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(statusStyle.Render(m.fit(formatStageMessage(m.stage, m.detail))))
	}

	return containerStyle.Render(b.String())
}

// fit truncates text so the spinner line never wraps.
func (m *launchModel) fit(text string) string {
	limit := m.width - 8
	if limit <= 0 {
		return text
	}
	return ansi.Truncate(text, limit, "…")
}

func (m *launchModel) sendUpdate(update screenUpdate) {
	select {
	case m.updates <- update:
	default:
		// Drop if channel is full
	}
}

// LaunchDisplay wraps the bubbletea program for the launch animation
type LaunchDisplay struct {
	program *tea.Program
	model   *launchModel
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewLaunchDisplay starts the launch screen on w.
func NewLaunchDisplay(w io.Writer) *LaunchDisplay {
	model := newLaunchModel()

	// Inline mode so the launched program keeps the terminal afterwards
	program := tea.NewProgram(
		model,
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(), // We handle signals ourselves
	)

	d := &LaunchDisplay{
		program: program,
		model:   model,
		done:    make(chan struct{}),
	}

	go func() {
		_, _ = program.Run()
		close(d.done)
	}()

	return d
}

// Stage shows what the launcher is doing.
func (d *LaunchDisplay) Stage(stage, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.model.sendUpdate(screenUpdate{stage: stage, detail: detail})
}

// Progress switches the screen to a progress bar of downloaded assets.
func (d *LaunchDisplay) Progress(finished, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.model.sendUpdate(screenUpdate{stage: stageDownloading, current: finished, total: total, isProgress: true})
}

// Dismiss implements controller.LaunchScreen.
func (d *LaunchDisplay) Dismiss(success bool) {
	d.finish(screenUpdate{done: true, success: success})
}

// Stop removes the screen without reporting an outcome.
func (d *LaunchDisplay) Stop() {
	d.finish(screenUpdate{done: true, clear: true})
}

func (d *LaunchDisplay) finish(final screenUpdate) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	select {
	case d.model.updates <- final:
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
	}

	select {
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
	}
}
