package config

import (
	"strings"
	"time"
)

// Settings is a typed snapshot of the configuration consumed by the
// composition root.
type Settings struct {
	Enabled          bool
	ManifestURL      string
	RuntimeVersion   string
	UpdatesDirectory string
	CheckOnLaunch    bool
	ScopeKey         string
	AllowDevelopment bool
	VerifyOnLaunch   bool

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Concurrency    int
	RequestTimeout time.Duration

	S3 S3Settings

	EmbeddedPath string
	HostCommand  string
	Debug        bool
	LogLevel     string
}

// S3Settings configures the S3 manifest source.
type S3Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Load snapshots the current configuration, applying defaults for values
// that are out of range.
func Load() (Settings, error) {
	if err := Initialize(); err != nil {
		return Settings{}, err
	}
	s := Settings{
		Enabled:          GetBool(KeyUpdatesEnabled),
		ManifestURL:      strings.TrimSpace(GetString(KeyUpdatesURL)),
		RuntimeVersion:   strings.TrimSpace(GetString(KeyUpdatesRuntimeVersion)),
		UpdatesDirectory: strings.TrimSpace(GetString(KeyUpdatesDirectory)),
		CheckOnLaunch:    GetBool(KeyUpdatesCheckOnLaunch),
		ScopeKey:         strings.TrimSpace(GetString(KeyUpdatesScopeKey)),
		AllowDevelopment: GetBool(KeyUpdatesAllowDevelopment),
		VerifyOnLaunch:   GetBool(KeyUpdatesVerifyOnLaunch),
		MaxAttempts:      GetInt(KeyLoaderMaxAttempts),
		InitialBackoff:   GetDuration(KeyLoaderInitialBackoff),
		MaxBackoff:       GetDuration(KeyLoaderMaxBackoff),
		Concurrency:      GetInt(KeyLoaderConcurrency),
		RequestTimeout:   GetDuration(KeyLoaderRequestTimeout),
		S3: S3Settings{
			Region:          GetString(KeyS3Region),
			Endpoint:        GetString(KeyS3Endpoint),
			AccessKeyID:     GetString(KeyS3AccessKeyID),
			SecretAccessKey: GetString(KeyS3SecretAccessKey),
		},
		EmbeddedPath: strings.TrimSpace(GetString(KeyEmbeddedPath)),
		HostCommand:  strings.TrimSpace(GetString(KeyHostCommand)),
		Debug:        GetBool(KeyDebug),
		LogLevel:     GetString(KeyLogLevel),
	}
	if s.UpdatesDirectory == "" {
		s.UpdatesDirectory = DefaultUpdatesDirectory()
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.InitialBackoff <= 0 {
		s.InitialBackoff = DefaultInitialBackoff
	}
	if s.MaxBackoff < s.InitialBackoff {
		s.MaxBackoff = s.InitialBackoff
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	return s, nil
}
