// Package source fetches manifests and asset bytes from a remote update
// origin. HTTP(S) origins and S3 buckets are supported.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "launchpad/internal/errors"
	"launchpad/internal/manifest"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxManifestSize caps how much of a manifest response is read.
const maxManifestSize = 16 << 20

// Error variables for specific error conditions.
var (
	ErrNetworkFailure = fmt.Errorf("network request failed")
	ErrNotFound       = fmt.Errorf("object not found")
	ErrUnsupported    = fmt.Errorf("unsupported source")
)

// Source is a remote update origin.
type Source interface {
	// FetchManifest returns the raw manifest document.
	FetchManifest(ctx context.Context) ([]byte, error)

	// OpenAsset streams the bytes named by an asset's source locator.
	// Relative locators resolve against the manifest location.
	OpenAsset(ctx context.Context, locator string) (io.ReadCloser, error)

	// ScopeKey identifies the origin so its updates never compete with
	// updates from another origin.
	ScopeKey() string
}

// Config selects and configures a Source.
type Config struct {
	ManifestURL    string
	RuntimeVersion string
	Platform       string
	Timeout        time.Duration
	S3             S3Config
	Logger         logrus.FieldLogger
}

// New returns the Source for cfg.ManifestURL's scheme.
func New(ctx context.Context, cfg Config) (Source, error) {
	raw := strings.TrimSpace(cfg.ManifestURL)
	if raw == "" {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "no update url configured", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "parse update url", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		opts := []HTTPOption{
			WithRuntimeVersion(cfg.RuntimeVersion),
			WithPlatform(cfg.Platform),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(cfg.Logger))
		}
		return NewHTTP(raw, opts...)
	case "s3":
		return NewS3(ctx, raw, cfg.S3)
	default:
		return nil, appErrors.New(appErrors.CodeConfigurationError,
			fmt.Sprintf("update url scheme %q", u.Scheme), ErrUnsupported)
	}
}

// DefaultPlatform describes the running OS and architecture.
func DefaultPlatform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// StatusError reports a non-success response from an origin.
type StatusError struct {
	Locator    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Locator, e.StatusCode)
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether err is a failure worth retrying: timeouts,
// dropped connections, and 408, 429 or 5xx responses. Cancellation is
// never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupported) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	var response interface{ HTTPStatusCode() int }
	if errors.As(err, &response) {
		code := response.HTTPStatusCode()
		return code == 408 || code == 429 || code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func networkError(msg string, err error) error {
	return appErrors.New(appErrors.CodeNetwork, msg, err)
}

func scopeKeyFor(manifestURL string) string {
	return manifest.ScopeKey(manifestURL)
}
