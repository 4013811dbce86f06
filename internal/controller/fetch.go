package controller

import (
	"context"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/loader"
)

// CheckResult is the outcome of CheckForUpdate.
type CheckResult struct {
	// Update is the remote update described by the manifest.
	Update domain.Update
	// Available reports whether the policy would load Update over the
	// launched one.
	Available bool
}

// CheckForUpdate fetches the remote manifest and reports whether the
// policy would adopt it. No asset is downloaded.
func (c *Controller) CheckForUpdate(ctx context.Context) (CheckResult, error) {
	ld, err := c.activeLoader()
	if err != nil {
		return CheckResult{}, err
	}
	update, available, err := ld.Check(ctx, c.request())
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Update: update, Available: available}, nil
}

// FetchUpdate runs the loader in the foreground. A loaded update is
// launched by the next RequestRelaunch, never by this call. Close cancels
// the load and waits for it.
func (c *Controller) FetchUpdate(ctx context.Context) (loader.Result, error) {
	ld, err := c.activeLoader()
	if err != nil {
		return loader.Result{}, err
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return loader.Result{}, appErrors.New(appErrors.CodeConcurrentOperation, "an update is already being fetched", nil)
	}
	c.loading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	runCtx, stop, ok := c.track(ctx)
	if !ok {
		return loader.Result{}, appErrors.New(appErrors.CodeConfigurationError, "controller closed", nil)
	}
	defer stop()
	return ld.Load(runCtx, c.request(), c)
}

func (c *Controller) activeLoader() (*loader.Loader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.started && !c.starting:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "controller not started", nil)
	case !c.enabled:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "updates are disabled", nil)
	case c.loader == nil:
		return nil, appErrors.New(appErrors.CodeConfigurationError, "no update source configured", nil)
	}
	return c.loader, nil
}

// request uses the launched update as the baseline.
func (c *Controller) request() loader.Request {
	if u, ok := c.LaunchedUpdate(); ok {
		return loader.Request{Baseline: &u}
	}
	return loader.Request{}
}

// ShouldLoad implements loader.Delegate.
func (c *Controller) ShouldLoad(update domain.Update) bool {
	if c.shouldLoad == nil {
		return true
	}
	return c.shouldLoad(update)
}

// AssetLoaded implements loader.Delegate.
func (c *Controller) AssetLoaded(asset domain.Asset, finished, total int) {
	c.log.WithField("asset", asset.Key).Debugf("asset loaded (%d/%d)", finished, total)
	if c.progress != nil {
		c.progress(finished, total)
	}
}

// AssetFailed implements loader.Delegate.
func (c *Controller) AssetFailed(asset domain.Asset, err error) {
	c.log.WithField("asset", asset.Key).WithError(err).Warn("asset failed to load")
}

// ManifestFailed implements loader.Delegate.
func (c *Controller) ManifestFailed(err error) {
	c.log.WithError(err).Warn("manifest failed to load")
}

// Finished implements loader.Delegate.
func (c *Controller) Finished(result loader.Result) {
	c.log.WithField("update", result.Update.ID).WithField("result", result.Kind.String()).Info("update check finished")
}

// Failed implements loader.Delegate. The running session is left alone.
func (c *Controller) Failed(err error) {
	c.log.WithError(err).Warn("update load failed")
}
