// Package logging provides the component loggers used across launchpad.
//
// Every component asks for a logger with New("component"); all of them
// share one root logrus.Logger so that level and output changes made by
// the CLI apply everywhere. When debug logging is enabled the root logger
// additionally mirrors every entry into ~/.launchpad/debug.log, truncated
// on each launch.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".launchpad"
)

// Setter mutates the root logger.
type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()

		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})

		return l
	}(),
	mutex: &sync.Mutex{},
}

var (
	mu      sync.RWMutex
	enabled bool
	logFile *os.File
	hook    *fileHook

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

// New returns a logger tagged with the component name.
func New(component string, setters ...Setter) logrus.FieldLogger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

// Discard returns a logger that drops everything. Handy for tests.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Set applies a setter to the root logger.
func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

// Level sets the root level. Unparseable levels fall back to debug.
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.DebugLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output redirects the root logger.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}

// InitDebug enables or disables the debug log file.
// If enable is false, the file mirror is removed and nothing is written.
// If enable is true, the log file is created/truncated at ~/.launchpad/debug.log
// and the root level is lowered to debug.
func InitDebug(enable bool) error {
	mu.Lock()
	defer mu.Unlock()

	enabled = enable
	if !enable {
		detachHookLocked()
		return nil
	}

	logPath, err := getLogPath()
	if err != nil {
		return fmt.Errorf("determine log path: %w", err)
	}

	dir := filepath.Dir(logPath)
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	//nolint:gosec // G304: Log path is computed from user home, not user input
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	detachHookLocked()
	logFile = f
	hook = &fileHook{
		writer: f,
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000000",
		},
	}

	root.mutex.Lock()
	root.logger.AddHook(hook)
	root.logger.SetLevel(logrus.DebugLevel)
	root.mutex.Unlock()

	fmt.Fprintf(f, "=== launchpad debug log started at %s ===\n", time.Now().Format(time.RFC3339))
	return nil
}

// CloseDebug closes the debug log file if open.
// Safe to call even if debug logging is disabled.
func CloseDebug() {
	mu.Lock()
	defer mu.Unlock()
	detachHookLocked()
}

// DebugEnabled returns whether the debug log file is active.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetLogPath returns the path to the debug log file.
func GetLogPath() (string, error) {
	return getLogPath()
}

func detachHookLocked() {
	if hook != nil {
		hook.disable()
		hook = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// defaultGetLogPath returns the path to the debug log file.
func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// fileHook mirrors every entry into the debug file. logrus has no
// RemoveHook, so a detached hook is disabled instead.
type fileHook struct {
	mu        sync.Mutex
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writer == nil {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

func (h *fileHook) disable() {
	h.mu.Lock()
	h.writer = nil
	h.mu.Unlock()
}
