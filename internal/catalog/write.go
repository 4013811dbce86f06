package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"launchpad/internal/domain"
	"launchpad/internal/integrity"
)

// completeClause matches updates whose launch asset exists and whose
// assets are all downloaded with a hash and a local path.
const completeClause = `EXISTS (
		SELECT 1 FROM assets a
		WHERE a.update_id = updates.id AND a.key = updates.launch_asset_key
	) AND NOT EXISTS (
		SELECT 1 FROM assets a
		WHERE a.update_id = updates.id
		  AND (a.status != 'downloaded' OR a.hash = '' OR a.local_path = '')
	)`

// Insert records an update and all of its assets in one transaction.
// Assets whose hash is already in the content-address index are recorded
// as downloaded. The stored status is ready only if every asset ends up
// downloaded; otherwise it is pending. Existing ids are never overwritten.
func (c *Catalog) Insert(ctx context.Context, update domain.Update, assets []domain.Asset) error {
	candidate := update
	candidate.Assets = assets
	if err := candidate.Validate(); err != nil {
		return catalogError("insert update", err)
	}
	rows := make([]domain.Asset, len(assets))
	for i, a := range assets {
		if a.Hash != "" {
			normalized, err := integrity.Normalize(a.Hash)
			if err != nil {
				return catalogError(fmt.Sprintf("insert update: asset %q", a.Key), err)
			}
			a.Hash = normalized
		}
		if a.Status == domain.AssetStatusUnknown {
			a.Status = domain.AssetStatusPending
		}
		a.UpdateID = update.ID
		a.IsLaunchAsset = a.Key == update.LaunchAssetKey
		rows[i] = a
	}
	blob, err := encodeBlob(update.Metadata)
	if err != nil {
		return catalogError("encode manifest blob", err)
	}

	err = c.write(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM updates WHERE id = ?`, update.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check update: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrUpdateExists, update.ID)
		}

		for i := range rows {
			if rows[i].Hash == "" || rows[i].IsDownloaded() {
				continue
			}
			path, ok, err := lookupFile(ctx, tx, rows[i].Hash)
			if err != nil {
				return err
			}
			if ok {
				rows[i].LocalPath = path
				rows[i].Status = domain.AssetStatusDownloaded
			}
		}
		candidate.Assets = rows
		status := domain.UpdateStatusPending
		if candidate.IsComplete() {
			status = domain.UpdateStatusReady
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO updates (id, scope_key, manifest_blob, runtime_version, commit_time,
			                     created_at, is_development, launch_asset_key, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			update.ID, update.ScopeKey, blob, update.RuntimeVersion, update.CommitTime.UnixNano(),
			update.CreatedAt.UnixNano(), update.IsDevelopment, update.LaunchAssetKey, string(status))
		if err != nil {
			return fmt.Errorf("insert update row: %w", err)
		}
		for i, a := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO assets (update_id, key, source_locator, local_path, hash,
				                    content_type, is_launch_asset, position, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.UpdateID, a.Key, a.SourceLocator, a.LocalPath, a.Hash,
				a.ContentType, a.IsLaunchAsset, i, string(a.Status))
			if err != nil {
				return fmt.Errorf("insert asset %q: %w", a.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return catalogError("insert update", err)
	}
	c.log.WithField("update", update.ID).WithField("assets", len(rows)).Debug("update inserted")
	return nil
}

// MarkAssetDownloaded records that the bytes with the given hash are on
// disk at localPath. Every asset row with that hash is repaired and any
// pending update that became complete is promoted to ready. Repeating the
// call has no further effect.
func (c *Catalog) MarkAssetDownloaded(ctx context.Context, asset domain.Asset, localPath, hash string) error {
	normalized, err := integrity.Normalize(hash)
	if err != nil {
		return catalogError(fmt.Sprintf("mark asset %q downloaded", asset.Key), err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return catalogError(fmt.Sprintf("mark asset %q downloaded", asset.Key), err)
	}

	err = c.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_files (hash, local_path, size, downloaded_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(hash) DO UPDATE SET local_path = excluded.local_path, size = excluded.size`,
			normalized, localPath, info.Size(), c.clock.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("record asset file: %w", err)
		}
		if asset.UpdateID != "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE assets SET hash = ?, local_path = ?, status = 'downloaded'
				WHERE update_id = ? AND key = ? AND (hash = '' OR hash = ?)`,
				normalized, localPath, asset.UpdateID, asset.Key, normalized)
			if err != nil {
				return fmt.Errorf("mark asset row: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE assets SET local_path = ?, status = 'downloaded'
			WHERE hash = ? AND (status != 'downloaded' OR local_path = '')`,
			localPath, normalized)
		if err != nil {
			return fmt.Errorf("repair assets by hash: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE updates SET status = 'ready'
			WHERE status = 'pending' AND `+completeClause)
		if err != nil {
			return fmt.Errorf("promote complete updates: %w", err)
		}
		return nil
	})
	if err != nil {
		return catalogError(fmt.Sprintf("mark asset %q downloaded", asset.Key), err)
	}
	return nil
}

// SetUpdateStatus moves an update to a new status. Only the transitions
// allowed by domain.UpdateStatus are accepted, and an update can only
// become ready while it is complete.
func (c *Catalog) SetUpdateStatus(ctx context.Context, id string, status domain.UpdateStatus) error {
	if err := status.Validate(); err != nil {
		return catalogError("set update status", err)
	}
	err := c.write(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT status FROM updates WHERE id = ?`, id).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("update %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("read update status: %w", err)
		}
		current, err := domain.ParseUpdateStatus(raw)
		if err != nil {
			return err
		}
		if err := current.CanTransitionTo(status); err != nil {
			return err
		}
		if current == status {
			return nil
		}
		if status == domain.UpdateStatusReady {
			var complete int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM updates WHERE id = ? AND `+completeClause, id).Scan(&complete)
			if err != nil {
				return fmt.Errorf("check completeness: %w", err)
			}
			if complete == 0 {
				return fmt.Errorf("update %s is incomplete", id)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE updates SET status = ? WHERE id = ?`, string(status), id)
		return err
	})
	if err != nil {
		return catalogError("set update status", err)
	}
	c.log.WithField("update", id).WithField("status", status).Debug("update status changed")
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookupFile(ctx context.Context, q querier, hash string) (string, bool, error) {
	var path string
	err := q.QueryRowContext(ctx, `SELECT local_path FROM asset_files WHERE hash = ?`, hash).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup asset file: %w", err)
	}
	return path, true, nil
}
