// Package loader fetches an update manifest and its assets from a remote
// source and records the result in the catalog for the next launch.
//
// A run never touches the launched session. Assets are written under
// <updates>/<update-id>/, verified against their manifest hash while they
// stream, and marked downloaded one by one. The update record itself is
// inserted only after every asset is on disk, so a reader that sees the
// update also sees all of its assets.
package loader

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"launchpad/internal/clock"
	"launchpad/internal/domain"
	"launchpad/internal/logging"
	"launchpad/internal/policy"
	"launchpad/internal/source"
)

// Default retry and concurrency settings.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultConcurrency    = 4
)

// Catalog is the part of the update catalog the loader writes to.
type Catalog interface {
	Update(ctx context.Context, id string) (domain.Update, bool, error)
	DownloadedFile(ctx context.Context, hash string) (string, bool, error)
	MarkAssetDownloaded(ctx context.Context, asset domain.Asset, localPath, hash string) error
	Insert(ctx context.Context, update domain.Update, assets []domain.Asset) error
	SetUpdateStatus(ctx context.Context, id string, status domain.UpdateStatus) error
}

// Kind classifies a successful run.
type Kind int

const (
	// KindLoaded means the update is now ready in the catalog.
	KindLoaded Kind = iota
	// KindAlreadyLoaded means the catalog already held the update as ready.
	KindAlreadyLoaded
	// KindNotNewer means the policy or delegate declined the update.
	KindNotNewer
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindLoaded:
		return "loaded"
	case KindAlreadyLoaded:
		return "already-loaded"
	case KindNotNewer:
		return "not-newer"
	default:
		return "unknown"
	}
}

// Result describes a successful run.
type Result struct {
	Kind Kind
	// Update is the fetched update. For KindLoaded and KindAlreadyLoaded it
	// is the record as stored in the catalog.
	Update domain.Update
}

// Request parameterises a run.
type Request struct {
	// Baseline is the currently launched update, if any. A fetched update
	// that does not beat it is not downloaded.
	Baseline *domain.Update
}

// Retry bounds retries of transient failures.
type Retry struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Loader downloads updates. A Loader may serve concurrent runs.
type Loader struct {
	catalog     Catalog
	source      source.Source
	policy      policy.Policy
	dir         string
	constraints policy.Constraints
	retry       Retry
	concurrency int
	clock       clock.Clock
	log         logrus.FieldLogger
	flight      singleflight.Group
}

// Option configures a Loader.
type Option func(*Loader)

// WithUpdatesDirectory sets the root directory for downloaded assets.
func WithUpdatesDirectory(dir string) Option {
	return func(l *Loader) {
		l.dir = dir
	}
}

// WithConstraints sets the runtime constraints fetched updates must meet.
func WithConstraints(c policy.Constraints) Option {
	return func(l *Loader) {
		l.constraints = c
	}
}

// WithRetry sets the retry policy. Non-positive fields keep their defaults.
func WithRetry(r Retry) Option {
	return func(l *Loader) {
		if r.MaxAttempts > 0 {
			l.retry.MaxAttempts = r.MaxAttempts
		}
		if r.InitialBackoff > 0 {
			l.retry.InitialBackoff = r.InitialBackoff
		}
		if r.MaxBackoff > 0 {
			l.retry.MaxBackoff = r.MaxBackoff
		}
	}
}

// WithConcurrency bounds parallel asset downloads.
func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithClock sets the clock used for retry backoff.
func WithClock(clk clock.Clock) Option {
	return func(l *Loader) {
		if clk != nil {
			l.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a Loader.
func New(catalog Catalog, src source.Source, p policy.Policy, opts ...Option) *Loader {
	l := &Loader{
		catalog: catalog,
		source:  src,
		policy:  p,
		retry: Retry{
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		concurrency: DefaultConcurrency,
		clock:       clock.Real(),
		log:         logging.New("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.retry.MaxBackoff < l.retry.InitialBackoff {
		l.retry.MaxBackoff = l.retry.InitialBackoff
	}
	return l
}

// Run is a loader run in progress.
type Run struct {
	done   chan struct{}
	result Result
	err    error
}

// Start begins a run on its own goroutine and returns immediately.
func (l *Loader) Start(ctx context.Context, req Request, delegate Delegate) *Run {
	run := &Run{done: make(chan struct{})}
	go func() {
		defer close(run.done)
		run.result, run.err = l.Load(ctx, req, delegate)
	}()
	return run
}

// Done is closed when the run ends.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its outcome.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}
