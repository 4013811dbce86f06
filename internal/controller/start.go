package controller

import (
	"context"
	"maps"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/launcher"
	"launchpad/internal/loader"
)

// Start begins the launch sequence in the background and returns
// immediately. Calls made while a start is running or after it finished
// are no-ops.
func (c *Controller) Start(ctx context.Context) {
	c.start(ctx, nil)
}

// StartAndShowLaunchScreen is Start, plus screen is dismissed once the
// first launch completes. A screen passed while that launch is running is
// dismissed with its outcome; after it, straight away.
func (c *Controller) StartAndShowLaunchScreen(ctx context.Context, screen LaunchScreen) {
	c.start(ctx, screen)
}

func (c *Controller) start(ctx context.Context, screen LaunchScreen) {
	c.mu.Lock()
	switch {
	case c.starting:
		if screen != nil {
			c.screens = append(c.screens, screen)
		}
		c.mu.Unlock()
		c.log.Debug("start already running")
		return
	case c.started || c.closed:
		launched := c.hasLaunch && !c.closed
		c.mu.Unlock()
		c.log.Debug("start already requested")
		if screen != nil {
			screen.Dismiss(launched)
		}
		return
	}
	c.starting = true
	if screen != nil {
		c.screens = append(c.screens, screen)
	}
	c.mu.Unlock()

	run := c.background(ctx, func(ctx context.Context) {
		ok := c.startup(ctx)
		c.finishStart(ok)
		c.delegate.DidStart(ok)
		c.checkOnLaunch(ctx)
	})
	if !run {
		c.finishStart(false)
	}
}

// finishStart marks the start complete and dismisses every waiting screen
// with its outcome.
func (c *Controller) finishStart(ok bool) {
	c.mu.Lock()
	c.starting = false
	c.started = true
	waiting := c.screens
	c.screens = nil
	c.mu.Unlock()
	for _, screen := range waiting {
		screen.Dismiss(ok)
	}
}

// background runs fn on a tracked goroutine. Its context ends with ctx or
// with Close, whichever comes first. It reports false without running fn
// once the controller is closed.
func (c *Controller) background(ctx context.Context, fn func(ctx context.Context)) bool {
	runCtx, stop, ok := c.track(ctx)
	if !ok {
		return false
	}
	go func() {
		defer stop()
		fn(runCtx)
	}()
	return true
}

// track registers work with Close. The returned stop must be called when
// the work ends.
func (c *Controller) track(ctx context.Context) (context.Context, func(), bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	release := context.AfterFunc(c.baseCtx, cancel)
	return runCtx, func() {
		release()
		cancel()
		c.wg.Done()
	}, true
}

// startup opens the catalog, builds the launcher and loader, and performs
// the first launch.
func (c *Controller) startup(ctx context.Context) bool {
	cat := c.openCatalog(ctx)

	var lc launcher.Catalog
	if cat != nil {
		lc = cat
	}
	l := launcher.New(lc, c.policy, c.embedded,
		launcher.WithUpdatesDirectory(c.cfg.UpdatesDirectory),
		launcher.WithConstraints(c.cfg.Constraints),
		launcher.WithVerifyOnLaunch(c.cfg.VerifyOnLaunch),
		launcher.WithLogger(c.log.WithField("component", "launcher")),
	)

	var ld *loader.Loader
	if cat != nil && c.source != nil {
		ld = loader.New(cat, c.source, c.policy,
			loader.WithUpdatesDirectory(c.cfg.UpdatesDirectory),
			loader.WithConstraints(c.cfg.Constraints),
			loader.WithRetry(c.cfg.Retry),
			loader.WithConcurrency(c.cfg.Concurrency),
			loader.WithClock(c.clock),
			loader.WithLogger(c.log.WithField("component", "loader")),
		)
	}

	c.mu.Lock()
	c.catalog = cat
	c.enabled = cat != nil
	c.launcher = l
	c.loader = ld
	c.mu.Unlock()

	return c.launch(ctx, l)
}

// openCatalog returns nil when updates are disabled or the catalog cannot
// be opened. Either way the session runs on the embedded bundle.
func (c *Controller) openCatalog(ctx context.Context) Catalog {
	if !c.cfg.Enabled {
		c.log.Info("updates disabled")
		return nil
	}
	cat, err := c.openCat(ctx, c.cfg.CatalogPath)
	if err != nil {
		c.log.WithError(err).Warn("update catalog unavailable; updates disabled for this session")
		return nil
	}
	return cat
}

// launch resolves an update, hands it to the host and records the result.
// It falls back to an emergency launch when nothing can be resolved.
func (c *Controller) launch(ctx context.Context, l *launcher.Launcher) bool {
	result, err := l.Launch(ctx)
	ok := err == nil
	if err != nil {
		c.log.WithError(err).Error("launch failed; attempting emergency launch")
		result, err = l.EmergencyLaunch(ctx)
		if err != nil {
			c.log.WithError(err).Error("emergency launch failed")
			c.mu.Lock()
			c.emergency = true
			c.current, c.hasLaunch = launcher.Launch{}, false
			c.mu.Unlock()
			return false
		}
	}

	log := c.log.WithField("update", result.Update.ID)
	hostErr := c.host.Load(result)

	c.mu.Lock()
	c.emergency = result.Emergency
	c.current, c.hasLaunch = result, true
	c.mu.Unlock()

	if hostErr != nil {
		log.WithError(hostErr).Error("host failed to load update")
		return false
	}
	log.WithField("embedded", result.Embedded).Info("update launched")
	return ok
}

// checkOnLaunch runs the loader against the launched update when the
// configuration asks for it. The result is only picked up by a later
// launch.
func (c *Controller) checkOnLaunch(ctx context.Context) {
	if !c.cfg.CheckOnLaunch {
		return
	}
	if _, err := c.FetchUpdate(ctx); err != nil {
		switch appErrors.CodeOf(err) {
		case appErrors.CodeConfigurationError, appErrors.CodeConcurrentOperation:
			c.log.WithError(err).Debug("skipping check on launch")
		default:
			c.log.WithError(err).Warn("update check on launch failed")
		}
	}
}

// RequestRelaunch tears down the host session and launches again against
// the current catalog. It reports false when the controller has not
// started or a start or relaunch is already running.
func (c *Controller) RequestRelaunch(ctx context.Context) bool {
	c.mu.Lock()
	if !c.started || c.starting || c.relaunching {
		c.mu.Unlock()
		return false
	}
	c.relaunching = true
	l := c.launcher
	c.mu.Unlock()

	run := c.background(ctx, func(ctx context.Context) {
		c.host.Teardown()
		ok := c.launch(ctx, l)
		c.mu.Lock()
		c.relaunching = false
		c.mu.Unlock()
		c.delegate.DidStart(ok)
	})
	if !run {
		c.mu.Lock()
		c.relaunching = false
		c.mu.Unlock()
	}
	return run
}

// Wait blocks until all background work has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels background and foreground work, waits for it and closes
// the catalog.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	cat := c.catalog
	c.catalog = nil
	c.enabled = false
	c.loader = nil
	c.mu.Unlock()
	if cat == nil {
		return nil
	}
	return cat.Close()
}

// LaunchedUpdate returns the update of the current session.
func (c *Controller) LaunchedUpdate() (domain.Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLaunch {
		return domain.Update{}, false
	}
	return c.current.Update.Clone(), true
}

// LaunchAssetPath returns the local path of the launched entry point.
func (c *Controller) LaunchAssetPath() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLaunch || c.current.LaunchAssetPath == "" {
		return "", false
	}
	return c.current.LaunchAssetPath, true
}

// AssetFilesMap returns asset key to local path for the launched update.
func (c *Controller) AssetFilesMap() (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLaunch {
		return nil, false
	}
	return maps.Clone(c.current.AssetFiles), true
}

// LocalAssets is AssetFilesMap without the presence flag.
func (c *Controller) LocalAssets() map[string]string {
	files, _ := c.AssetFilesMap()
	return files
}

func (c *Controller) UpdatesDirectory() string {
	return c.cfg.UpdatesDirectory
}

// IsEnabled reports whether the catalog is open and updates are in use.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Controller) IsEmergencyLaunch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergency
}
