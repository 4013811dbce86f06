package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"launchpad/internal/catalog"
	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/manifest"
)

// Load runs the loader synchronously. Every outcome is reported to the
// delegate as well as returned.
func (l *Loader) Load(ctx context.Context, req Request, delegate Delegate) (Result, error) {
	if delegate == nil {
		delegate = NopDelegate{}
	}
	d := &serialDelegate{d: delegate}

	update, err := l.fetchManifest(ctx)
	if err != nil {
		d.ManifestFailed(err)
		d.Failed(err)
		return Result{}, err
	}
	log := l.log.WithField("update", update.ID)

	existing, found, err := l.catalog.Update(ctx, update.ID)
	if err != nil {
		d.Failed(err)
		return Result{}, err
	}
	if found && existing.Status == domain.UpdateStatusReady {
		log.Debug("update already loaded")
		result := Result{Kind: KindAlreadyLoaded, Update: existing}
		d.Finished(result)
		return result, nil
	}

	launched, hasLaunched := domain.Update{}, req.Baseline != nil
	if hasLaunched {
		launched = *req.Baseline
	}
	if !l.policy.ShouldLoadNewUpdate(update, launched, hasLaunched, l.constraints) || !d.ShouldLoad(update) {
		log.Debug("update not newer than the launched update")
		result := Result{Kind: KindNotNewer, Update: update}
		d.Finished(result)
		return result, nil
	}

	assets, err := l.loadAssets(ctx, update, d)
	if err != nil {
		d.Failed(err)
		return Result{}, err
	}

	if found {
		// The record survived an earlier partial run or was marked failed
		// at launch. Its assets are repaired now.
		if existing.Status != domain.UpdateStatusReady {
			if err := l.catalog.SetUpdateStatus(ctx, update.ID, domain.UpdateStatusReady); err != nil {
				d.Failed(err)
				return Result{}, err
			}
		}
	} else if err := l.catalog.Insert(ctx, update, assets); err != nil && !errors.Is(err, catalog.ErrUpdateExists) {
		d.Failed(err)
		return Result{}, err
	}

	stored, ok, err := l.catalog.Update(ctx, update.ID)
	if err != nil {
		d.Failed(err)
		return Result{}, err
	}
	if !ok || stored.Status != domain.UpdateStatusReady {
		err := appErrors.New(appErrors.CodeCatalog, fmt.Sprintf("update %s is not ready after loading", update.ID), nil)
		d.Failed(err)
		return Result{}, err
	}
	log.WithField("assets", len(assets)).Info("update loaded")
	result := Result{Kind: KindLoaded, Update: stored}
	d.Finished(result)
	return result, nil
}

// Check fetches and validates the remote manifest without downloading any
// asset. It reports the fetched update and whether the policy would load it
// over baseline.
func (l *Loader) Check(ctx context.Context, req Request) (domain.Update, bool, error) {
	update, err := l.fetchManifest(ctx)
	if err != nil {
		return domain.Update{}, false, err
	}
	launched, hasLaunched := domain.Update{}, req.Baseline != nil
	if hasLaunched {
		launched = *req.Baseline
	}
	return update, l.policy.ShouldLoadNewUpdate(update, launched, hasLaunched, l.constraints), nil
}

func (l *Loader) fetchManifest(ctx context.Context) (domain.Update, error) {
	var data []byte
	err := l.withRetry(ctx, "fetch manifest", func() error {
		var err error
		data, err = l.source.FetchManifest(ctx)
		return err
	})
	if err != nil {
		return domain.Update{}, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return domain.Update{}, err
	}
	if m.RuntimeVersion != l.constraints.RuntimeVersion {
		return domain.Update{}, appErrors.New(appErrors.CodeManifestValidation,
			fmt.Sprintf("manifest runtime version %q does not match %q", m.RuntimeVersion, l.constraints.RuntimeVersion), nil)
	}
	scope := l.scopeKey()
	if m.ScopeKey != "" && l.constraints.ScopeKey != "" && m.ScopeKey != scope {
		return domain.Update{}, appErrors.New(appErrors.CodeManifestValidation,
			fmt.Sprintf("manifest scope key %q does not match %q", m.ScopeKey, scope), nil)
	}
	return m.Update(scope), nil
}

// scopeKey is the scope fetched updates are recorded under: the configured
// one when set, otherwise the one derived from the source.
func (l *Loader) scopeKey() string {
	if l.constraints.ScopeKey != "" {
		return l.constraints.ScopeKey
	}
	return l.source.ScopeKey()
}

// loadAssets downloads every asset of update with bounded parallelism.
// Failed assets are reported and skipped; the first failure is returned
// once all assets have been attempted.
func (l *Loader) loadAssets(ctx context.Context, update domain.Update, d *serialDelegate) ([]domain.Asset, error) {
	dir := filepath.Join(l.dir, update.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, appErrors.New(appErrors.CodeCatalog, "create update directory", err)
	}

	assets := append([]domain.Asset(nil), update.Assets...)
	total := len(assets)

	var (
		mu       sync.Mutex
		finished int
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i := range assets {
		asset := assets[i]
		g.Go(func() error {
			path, err := l.loadAsset(gctx, dir, asset)
			if err == nil {
				err = l.catalog.MarkAssetDownloaded(gctx, asset, path, asset.Hash)
			}
			if err != nil {
				l.log.WithField("asset", asset.Key).WithError(err).Warn("asset failed")
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				d.AssetFailed(asset, err)
				return nil
			}

			mu.Lock()
			assets[i].LocalPath = path
			assets[i].Status = domain.AssetStatusDownloaded
			finished++
			n := finished
			loaded := assets[i]
			mu.Unlock()
			d.AssetLoaded(loaded, n, total)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		removeStale(dir)
		return nil, terminalAssetError(failures, total)
	}
	return assets, nil
}

// terminalAssetError prefers an integrity failure over a network failure
// so the caller learns that the origin served bad bytes.
func terminalAssetError(failures []error, total int) error {
	for _, err := range failures {
		if appErrors.IsCode(err, appErrors.CodeAssetIntegrity) {
			return err
		}
	}
	first := failures[0]
	if appErrors.CodeOf(first) != appErrors.CodeUnknown {
		return first
	}
	return appErrors.New(appErrors.CodeNetwork, fmt.Sprintf("%d of %d assets failed", len(failures), total), first)
}
