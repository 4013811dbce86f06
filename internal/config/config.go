package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	KeyUpdatesEnabled          = "updates.enabled"
	KeyUpdatesURL              = "updates.url"
	KeyUpdatesRuntimeVersion   = "updates.runtime-version"
	KeyUpdatesDirectory        = "updates.directory"
	KeyUpdatesCheckOnLaunch    = "updates.check-on-launch"
	KeyUpdatesScopeKey         = "updates.scope-key"
	KeyUpdatesAllowDevelopment = "updates.allow-development"
	KeyUpdatesVerifyOnLaunch   = "updates.verify-on-launch"

	KeyLoaderMaxAttempts    = "loader.max-attempts"
	KeyLoaderInitialBackoff = "loader.initial-backoff"
	KeyLoaderMaxBackoff     = "loader.max-backoff"
	KeyLoaderConcurrency    = "loader.concurrency"
	KeyLoaderRequestTimeout = "loader.request-timeout"

	KeyS3Region          = "s3.region"
	KeyS3Endpoint        = "s3.endpoint"
	KeyS3AccessKeyID     = "s3.access-key-id"
	KeyS3SecretAccessKey = "s3.secret-access-key"

	KeyEmbeddedPath = "embedded.path"
	KeyHostCommand  = "host.command"
	KeyDebug        = "debug"
	KeyLogLevel     = "log-level"
)

const (
	// DefaultMaxAttempts bounds loader retries for transient network failures.
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultConcurrency    = 4
	DefaultRequestTimeout = 30 * time.Second

	envPrefix = "LP"
	dirName   = ".launchpad"
)

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
	dotEnvPath        string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

// WithDotEnv overrides the .env file location (default: <working dir>/.env).
func WithDotEnv(path string) Option {
	return func(cfg *initSettings) {
		cfg.dotEnvPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < project config < .env < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

func configure(settings *initSettings) error {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir)
		if err != nil {
			return err
		}
		projectConfigPath = path
	}

	dotEnvPath := strings.TrimSpace(settings.dotEnvPath)
	if dotEnvPath == "" {
		dotEnvPath = filepath.Join(workingDir, ".env")
	}
	if err := loadDotEnv(dotEnvPath); err != nil {
		return fmt.Errorf("load %s: %w", dotEnvPath, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

// loadDotEnv exports .env entries into the process environment. Variables
// that are already set win, so real environment > .env.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return godotenv.Load(path)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and project config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, dirName, "config.yaml"), nil
}

// DefaultUpdatesDirectory is used when updates.directory is not configured.
func DefaultUpdatesDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "launchpad", "updates")
	}
	return filepath.Join(home, dirName, "updates")
}

func findProjectConfig(startDir string) (string, error) {
	if strings.TrimSpace(startDir) == "" {
		return "", nil
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, dirName, "config.yaml")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyUpdatesEnabled, true)
	v.SetDefault(KeyUpdatesURL, "")
	v.SetDefault(KeyUpdatesRuntimeVersion, "")
	v.SetDefault(KeyUpdatesDirectory, "")
	v.SetDefault(KeyUpdatesCheckOnLaunch, true)
	v.SetDefault(KeyUpdatesScopeKey, "")
	v.SetDefault(KeyUpdatesAllowDevelopment, false)
	v.SetDefault(KeyUpdatesVerifyOnLaunch, true)
	v.SetDefault(KeyLoaderMaxAttempts, DefaultMaxAttempts)
	v.SetDefault(KeyLoaderInitialBackoff, DefaultInitialBackoff)
	v.SetDefault(KeyLoaderMaxBackoff, DefaultMaxBackoff)
	v.SetDefault(KeyLoaderConcurrency, DefaultConcurrency)
	v.SetDefault(KeyLoaderRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3AccessKeyID, "")
	v.SetDefault(KeyS3SecretAccessKey, "")
	v.SetDefault(KeyEmbeddedPath, "")
	v.SetDefault(KeyHostCommand, "")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogLevel, "info")
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
//
//nolint:unused // Used in config_test.go
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, "user.yaml")))
	return reset
}
