// Package launcher turns the selected update into a runnable bundle: the
// launch asset path plus a map from asset key to absolute file path.
//
// The launcher only reads what is already on disk. When the selected
// update turns out to be incomplete it is marked failed in the catalog and
// the embedded bundle is launched instead.
package launcher

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/integrity"
	"launchpad/internal/logging"
	"launchpad/internal/policy"
)

// Catalog is the part of the update catalog the launcher reads.
type Catalog interface {
	AllLaunchableUpdates(ctx context.Context) ([]domain.Update, error)
	SetUpdateStatus(ctx context.Context, id string, status domain.UpdateStatus) error
}

// Launch is a resolved, runnable update.
type Launch struct {
	Update          domain.Update
	LaunchAssetPath string
	// AssetFiles maps asset keys to absolute local paths.
	AssetFiles map[string]string
	Embedded   bool
	Emergency  bool
}

// Launcher resolves updates to local files and tracks the launch state.
type Launcher struct {
	catalog     Catalog
	policy      policy.Policy
	embedded    EmbeddedBundle
	dir         string
	constraints policy.Constraints
	verify      bool
	log         logrus.FieldLogger

	embeddedMu       sync.Mutex
	embeddedResolved *domain.Update

	mu       sync.RWMutex
	state    State
	launch   Launch
	launched bool
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithUpdatesDirectory sets the directory embedded assets are copied into.
func WithUpdatesDirectory(dir string) Option {
	return func(l *Launcher) {
		l.dir = dir
	}
}

// WithConstraints sets the runtime constraints for selection.
func WithConstraints(c policy.Constraints) Option {
	return func(l *Launcher) {
		l.constraints = c
	}
}

// WithVerifyOnLaunch re-hashes every asset before launching it.
func WithVerifyOnLaunch(verify bool) Option {
	return func(l *Launcher) {
		l.verify = verify
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Launcher) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a Launcher. A nil catalog restricts launches to the
// embedded bundle.
func New(catalog Catalog, p policy.Policy, embedded EmbeddedBundle, opts ...Option) *Launcher {
	l := &Launcher{
		catalog:  catalog,
		policy:   p,
		embedded: embedded,
		log:      logging.New("launcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LaunchableUpdate returns the update the policy would launch now. Catalog
// read errors degrade to the embedded bundle.
func (l *Launcher) LaunchableUpdate(ctx context.Context) (domain.Update, bool) {
	var candidates []domain.Update
	if l.catalog != nil {
		updates, err := l.catalog.AllLaunchableUpdates(ctx)
		if err != nil {
			l.log.WithError(err).Warn("catalog unreadable, considering only the embedded update")
		} else {
			candidates = updates
		}
	}
	return l.policy.SelectLaunchable(candidates, l.embeddedRecord(), l.constraints)
}

// LaunchUpdate resolves the launchable update and reports the outcome to
// completion. On failure no launch state is kept.
func (l *Launcher) LaunchUpdate(ctx context.Context, completion func(ok bool)) {
	_, err := l.Launch(ctx)
	if completion != nil {
		completion(err == nil)
	}
}

// Launch resolves the launchable update. The error carries
// errors.CodeNoLaunchableUpdate when even the embedded bundle cannot be
// resolved.
func (l *Launcher) Launch(ctx context.Context) (Launch, error) {
	l.begin()

	launch, err := l.resolve(ctx)
	if err != nil {
		l.log.WithError(err).Error("launch failed")
		l.finish(Launch{}, false)
		return Launch{}, err
	}
	l.log.WithField("update", launch.Update.ID).WithField("embedded", launch.Embedded).Info("update launched")
	l.finish(launch, true)
	return launch, nil
}

// EmergencyLaunch launches whatever part of the embedded bundle can be
// materialized. It fails only when no asset at all is available.
func (l *Launcher) EmergencyLaunch(ctx context.Context) (Launch, error) {
	l.begin()

	update, err := l.embedded.materialize(l.dir, true)
	if err != nil {
		l.log.WithError(err).Warn("embedded bundle is incomplete")
	}
	files := make(map[string]string, len(update.Assets))
	for _, a := range update.Assets {
		if a.Status == domain.AssetStatusDownloaded {
			files[a.Key] = a.LocalPath
		}
	}
	if len(files) == 0 {
		l.finish(Launch{}, false)
		return Launch{}, appErrors.New(appErrors.CodeNoLaunchableUpdate, "emergency launch found no embedded assets", err)
	}
	launch := Launch{
		Update:          update,
		LaunchAssetPath: files[update.LaunchAssetKey],
		AssetFiles:      files,
		Embedded:        true,
		Emergency:       true,
	}
	l.log.WithField("assets", len(files)).Warn("emergency launch")
	l.finish(launch, true)
	return launch, nil
}

func (l *Launcher) resolve(ctx context.Context) (Launch, error) {
	selected, ok := l.LaunchableUpdate(ctx)
	if !ok {
		return Launch{}, appErrors.New(appErrors.CodeNoLaunchableUpdate, "no launchable update", nil)
	}
	if selected.ID == l.embedded.Update.ID {
		return l.embeddedLaunch()
	}

	launch, err := l.resolveAssets(selected)
	if err == nil {
		return launch, nil
	}
	l.log.WithField("update", selected.ID).WithError(err).Warn("selected update is incomplete, falling back to embedded")
	if l.catalog != nil {
		if markErr := l.catalog.SetUpdateStatus(ctx, selected.ID, domain.UpdateStatusFailed); markErr != nil {
			l.log.WithField("update", selected.ID).WithError(markErr).Error("failed to mark update failed")
		}
	}
	if _, ok := l.policy.SelectLaunchable(nil, l.embeddedRecord(), l.constraints); !ok {
		return Launch{}, appErrors.New(appErrors.CodeNoLaunchableUpdate, "embedded update is not launchable", err)
	}
	return l.embeddedLaunch()
}

func (l *Launcher) resolveAssets(u domain.Update) (Launch, error) {
	files := make(map[string]string, len(u.Assets))
	for _, a := range u.Assets {
		if !a.IsDownloaded() {
			return Launch{}, fmt.Errorf("asset %q is not downloaded", a.Key)
		}
		if _, err := os.Stat(a.LocalPath); err != nil {
			return Launch{}, fmt.Errorf("asset %q: %w", a.Key, err)
		}
		if l.verify {
			if err := integrity.VerifyFile(a.LocalPath, a.Hash); err != nil {
				return Launch{}, appErrors.New(appErrors.CodeAssetIntegrity, fmt.Sprintf("asset %q", a.Key), err)
			}
		}
		files[a.Key] = a.LocalPath
	}
	launchPath, ok := files[u.LaunchAssetKey]
	if !ok {
		return Launch{}, fmt.Errorf("launch asset %q is missing", u.LaunchAssetKey)
	}
	return Launch{Update: u, LaunchAssetPath: launchPath, AssetFiles: files}, nil
}

func (l *Launcher) embeddedLaunch() (Launch, error) {
	u := l.embeddedRecord()
	launch, err := l.resolveAssets(u)
	if err != nil {
		return Launch{}, appErrors.New(appErrors.CodeNoLaunchableUpdate, "embedded update cannot be resolved", err)
	}
	launch.Embedded = true
	return launch, nil
}

// embeddedRecord returns the embedded update with its assets materialized.
// A successful materialization is cached; a failed one is retried on the
// next call and yields an incomplete update meanwhile.
func (l *Launcher) embeddedRecord() domain.Update {
	l.embeddedMu.Lock()
	defer l.embeddedMu.Unlock()
	if l.embeddedResolved != nil {
		return l.embeddedResolved.Clone()
	}
	u, err := l.embedded.materialize(l.dir, false)
	if err != nil {
		if l.embedded.Update.ID != "" {
			l.log.WithError(err).Warn("embedded bundle unavailable")
		}
		return u
	}
	u.Status = domain.UpdateStatusReady
	l.embeddedResolved = &u
	return u.Clone()
}

func (l *Launcher) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateLaunching
	l.launch = Launch{}
	l.launched = false
}

func (l *Launcher) finish(launch Launch, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !ok {
		l.state = StateFailed
		return
	}
	l.state = StateLaunched
	l.launch = launch
	l.launched = true
}

// State returns the current launch state.
func (l *Launcher) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Current returns the last successful launch.
func (l *Launcher) Current() (Launch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.launched {
		return Launch{}, false
	}
	out := l.launch
	out.Update = l.launch.Update.Clone()
	out.AssetFiles = maps.Clone(l.launch.AssetFiles)
	return out, true
}

// LaunchedUpdate returns the launched update.
func (l *Launcher) LaunchedUpdate() (domain.Update, bool) {
	launch, ok := l.Current()
	return launch.Update, ok
}

// LaunchAssetPath returns the launched update's entry file.
func (l *Launcher) LaunchAssetPath() (string, bool) {
	launch, ok := l.Current()
	if !ok || launch.LaunchAssetPath == "" {
		return "", false
	}
	return launch.LaunchAssetPath, true
}

// AssetFilesMap returns a copy of the launched update's asset map.
func (l *Launcher) AssetFilesMap() (map[string]string, bool) {
	launch, ok := l.Current()
	return launch.AssetFiles, ok
}
