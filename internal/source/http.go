package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"launchpad/internal/logging"
)

// Request headers sent to HTTP origins.
const (
	HeaderRuntimeVersion = "Launchpad-Runtime-Version"
	HeaderPlatform       = "Launchpad-Platform"
	DefaultUserAgent     = "launchpad-updates"
)

// HTTP fetches manifests and assets over HTTP(S).
type HTTP struct {
	manifestURL    *url.URL
	httpClient     *http.Client
	runtimeVersion string
	platform       string
	userAgent      string
	log            logrus.FieldLogger
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithHTTPClient sets a custom HTTP client for the source.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		if client != nil {
			h.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.httpClient.Timeout = timeout
	}
}

// WithRuntimeVersion sets the runtime version advertised to the origin.
func WithRuntimeVersion(version string) HTTPOption {
	return func(h *HTTP) {
		h.runtimeVersion = version
	}
}

// WithPlatform overrides the advertised platform.
func WithPlatform(platform string) HTTPOption {
	return func(h *HTTP) {
		if platform != "" {
			h.platform = platform
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(agent string) HTTPOption {
	return func(h *HTTP) {
		if agent != "" {
			h.userAgent = agent
		}
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(log logrus.FieldLogger) HTTPOption {
	return func(h *HTTP) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHTTP creates a source for the manifest at manifestURL.
func NewHTTP(manifestURL string, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(strings.TrimSpace(manifestURL))
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}
	h := &HTTP{
		manifestURL: u,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		platform:  DefaultPlatform(),
		userAgent: DefaultUserAgent,
		log:       logging.New("source"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ScopeKey implements Source.
func (h *HTTP) ScopeKey() string {
	return scopeKeyFor(h.manifestURL.String())
}

// FetchManifest implements Source.
func (h *HTTP) FetchManifest(ctx context.Context) ([]byte, error) {
	body, err := h.get(ctx, h.manifestURL, "application/json")
	if err != nil {
		return nil, networkError("fetch manifest", err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxManifestSize))
	if err != nil {
		return nil, networkError("read manifest", err)
	}
	return data, nil
}

// OpenAsset implements Source.
func (h *HTTP) OpenAsset(ctx context.Context, locator string) (io.ReadCloser, error) {
	ref, err := url.Parse(locator)
	if err != nil {
		return nil, networkError("parse asset locator", fmt.Errorf("%w: %v", ErrUnsupported, err))
	}
	target := h.manifestURL.ResolveReference(ref)
	body, err := h.get(ctx, target, "*/*")
	if err != nil {
		return nil, networkError("fetch asset", err)
	}
	return body, nil
}

func (h *HTTP) get(ctx context.Context, target *url.URL, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set(HeaderPlatform, h.platform)
	if h.runtimeVersion != "" {
		req.Header.Set(HeaderRuntimeVersion, h.runtimeVersion)
	}

	h.log.WithField("url", target.String()).Debug("GET")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{Locator: target.String(), StatusCode: resp.StatusCode}
	}
	return decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
}
