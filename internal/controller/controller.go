// Package controller orchestrates an update-aware application session.
//
// The Controller owns the catalog, launcher and loader. Start launches the
// best update already on disk without waiting on the network, hands it to
// the Host, and only then checks the remote source. Whatever the loader
// fetches becomes available to the next launch; the running session is
// never swapped underneath the host.
package controller

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"launchpad/internal/catalog"
	"launchpad/internal/clock"
	"launchpad/internal/domain"
	"launchpad/internal/launcher"
	"launchpad/internal/loader"
	"launchpad/internal/logging"
	"launchpad/internal/policy"
	"launchpad/internal/source"
)

// Delegate is told when each launch cycle completes.
type Delegate interface {
	DidStart(success bool)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(success bool)

// DidStart implements Delegate.
func (f DelegateFunc) DidStart(success bool) { f(success) }

// Host runs the launched bundle.
type Host interface {
	// Load starts a session for launch.
	Load(launch launcher.Launch) error
	// Teardown ends the current session before a relaunch.
	Teardown()
}

// LaunchScreen is a caller-owned surface shown until the first launch
// completes.
type LaunchScreen interface {
	Dismiss(success bool)
}

// Catalog is everything the controller's collaborators need from the
// update catalog.
type Catalog interface {
	launcher.Catalog
	loader.Catalog
	Close() error
}

// CatalogOpener opens the catalog at path.
type CatalogOpener func(ctx context.Context, path string) (Catalog, error)

// Config holds the controller's settings.
type Config struct {
	// Enabled turns on the catalog and remote loading. When false only the
	// embedded bundle is launched.
	Enabled          bool
	UpdatesDirectory string
	// CatalogPath defaults to <UpdatesDirectory>/launchpad.db.
	CatalogPath    string
	Constraints    policy.Constraints
	CheckOnLaunch  bool
	VerifyOnLaunch bool
	Retry          loader.Retry
	Concurrency    int
}

// Controller is the process-wide update context.
type Controller struct {
	cfg        Config
	openCat    CatalogOpener
	source     source.Source
	policy     policy.Policy
	embedded   launcher.EmbeddedBundle
	delegate   Delegate
	host       Host
	shouldLoad func(update domain.Update) bool
	progress   func(finished, total int)
	clock      clock.Clock
	log        logrus.FieldLogger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	starting    bool
	started     bool
	relaunching bool
	loading     bool
	enabled     bool
	emergency   bool
	catalog     Catalog
	launcher    *launcher.Launcher
	loader      *loader.Loader
	current     launcher.Launch
	hasLaunch   bool
	closed      bool
	// screens wait for the running start to finish.
	screens []LaunchScreen
}

// Option configures a Controller.
type Option func(*Controller)

// WithCatalogOpener replaces the SQLite catalog opener.
func WithCatalogOpener(open CatalogOpener) Option {
	return func(c *Controller) {
		if open != nil {
			c.openCat = open
		}
	}
}

// WithSource sets the remote update source. Without one no remote check
// is made.
func WithSource(src source.Source) Option {
	return func(c *Controller) {
		c.source = src
	}
}

// WithPolicy replaces the Newest selection policy.
func WithPolicy(p policy.Policy) Option {
	return func(c *Controller) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithEmbedded sets the bundle shipped with the binary.
func WithEmbedded(bundle launcher.EmbeddedBundle) Option {
	return func(c *Controller) {
		c.embedded = bundle
	}
}

// WithDelegate sets the launch delegate.
func WithDelegate(d Delegate) Option {
	return func(c *Controller) {
		if d != nil {
			c.delegate = d
		}
	}
}

// WithHost sets the session host.
func WithHost(h Host) Option {
	return func(c *Controller) {
		if h != nil {
			c.host = h
		}
	}
}

// WithShouldLoad installs a hook consulted whenever a newer manifest has
// been downloaded, before any asset is fetched.
func WithShouldLoad(fn func(update domain.Update) bool) Option {
	return func(c *Controller) {
		c.shouldLoad = fn
	}
}

// WithProgress installs a callback reporting downloaded assets.
func WithProgress(fn func(finished, total int)) Option {
	return func(c *Controller) {
		c.progress = fn
	}
}

// WithClock sets the clock used for loader backoff.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// OpenSQLiteCatalog is the default CatalogOpener.
func OpenSQLiteCatalog(ctx context.Context, path string) (Catalog, error) {
	return catalog.Open(ctx, path, catalog.WithLogger(logging.New("catalog")))
}

// New creates a Controller. Nothing is opened until Start.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(cfg.UpdatesDirectory, catalog.DefaultFileName)
	}
	c := &Controller{
		cfg:      cfg,
		openCat:  OpenSQLiteCatalog,
		policy:   policy.Newest{},
		delegate: DelegateFunc(func(bool) {}),
		host:     nopHost{},
		clock:    clock.Real(),
		log:      logging.New("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

type nopHost struct{}

func (nopHost) Load(launcher.Launch) error { return nil }
func (nopHost) Teardown()                  {}
