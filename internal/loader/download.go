package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/integrity"
	"launchpad/internal/source"
)

// loadAsset returns the local path of the asset's bytes, reusing a file
// already recorded under the same hash when it is intact.
func (l *Loader) loadAsset(ctx context.Context, dir string, asset domain.Asset) (string, error) {
	want, err := integrity.Parse(asset.Hash)
	if err != nil {
		return "", appErrors.New(appErrors.CodeManifestValidation, fmt.Sprintf("asset %q hash", asset.Key), err)
	}

	if existing, ok, err := l.catalog.DownloadedFile(ctx, want.String()); err != nil {
		return "", err
	} else if ok {
		if err := integrity.VerifyFile(existing, want.String()); err == nil {
			l.log.WithField("asset", asset.Key).Debug("reusing downloaded file")
			return existing, nil
		}
	}

	// Identical hashes inside one run share a single download.
	v, err, _ := l.flight.Do(want.String(), func() (any, error) {
		return l.download(ctx, dir, asset, want)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (l *Loader) download(ctx context.Context, dir string, asset domain.Asset, want integrity.Digest) (string, error) {
	dest := filepath.Join(dir, want.Hex()+path.Ext(asset.Key))
	err := l.withRetry(ctx, "download "+asset.Key, func() error {
		body, err := l.source.OpenAsset(ctx, asset.SourceLocator)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()

		if _, err := integrity.WriteFile(dest, body, want); err != nil {
			if errors.Is(err, integrity.ErrMismatch) {
				return appErrors.New(appErrors.CodeAssetIntegrity, fmt.Sprintf("asset %q", asset.Key), err)
			}
			return fmt.Errorf("store asset %q: %w", asset.Key, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// withRetry runs fn until it succeeds, fails with a non-transient error,
// or exhausts the configured attempts. Backoff doubles up to MaxBackoff.
func (l *Loader) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := l.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !source.IsTransient(err) {
			return err
		}
		if attempt >= l.retry.MaxAttempts {
			l.log.WithField("op", op).WithField("attempts", attempt).WithError(err).Warn("retries exhausted")
			return err
		}

		l.log.WithField("op", op).WithField("attempt", attempt).WithField("backoff", backoff).
			WithError(err).Debug("transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(backoff):
		}
		backoff *= 2
		if backoff > l.retry.MaxBackoff {
			backoff = l.retry.MaxBackoff
		}
	}
}

// removeStale deletes a partially written update directory that holds no
// files. Directories with files are kept for content reuse.
func removeStale(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
