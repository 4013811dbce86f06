package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"launchpad/internal/domain"
	"launchpad/internal/integrity"
)

const updateColumns = `id, scope_key, manifest_blob, runtime_version, commit_time,
	created_at, is_development, launch_asset_key, status`

// AllLaunchableUpdates returns every ready update whose assets are all
// downloaded, ordered by commit time then id. The result is read from a
// single snapshot.
func (c *Catalog) AllLaunchableUpdates(ctx context.Context) ([]domain.Update, error) {
	var out []domain.Update
	err := c.read(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadUpdates(ctx, tx, `WHERE status = 'ready' AND `+completeClause)
		return err
	})
	if err != nil {
		return nil, catalogError("list launchable updates", err)
	}
	return out, nil
}

// AllUpdates returns every recorded update regardless of status.
func (c *Catalog) AllUpdates(ctx context.Context) ([]domain.Update, error) {
	var out []domain.Update
	err := c.read(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadUpdates(ctx, tx, "")
		return err
	})
	if err != nil {
		return nil, catalogError("list updates", err)
	}
	return out, nil
}

// Update returns the update with the given id.
func (c *Catalog) Update(ctx context.Context, id string) (domain.Update, bool, error) {
	var out []domain.Update
	err := c.read(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = loadUpdates(ctx, tx, `WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return domain.Update{}, false, catalogError("read update", err)
	}
	if len(out) == 0 {
		return domain.Update{}, false, nil
	}
	return out[0], true, nil
}

// DownloadedFile looks up the local file holding the bytes with hash.
func (c *Catalog) DownloadedFile(ctx context.Context, hash string) (string, bool, error) {
	normalized, err := integrity.Normalize(hash)
	if err != nil {
		return "", false, catalogError("lookup downloaded file", err)
	}
	var (
		path string
		ok   bool
	)
	err = c.read(ctx, func(tx *sql.Tx) error {
		var err error
		path, ok, err = lookupFile(ctx, tx, normalized)
		return err
	})
	if err != nil {
		return "", false, catalogError("lookup downloaded file", err)
	}
	return path, ok, nil
}

func loadUpdates(ctx context.Context, q querier, where string, args ...any) ([]domain.Update, error) {
	query := `SELECT ` + updateColumns + ` FROM updates ` + where + ` ORDER BY commit_time, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var updates []domain.Update
	index := make(map[string]int)
	for rows.Next() {
		var (
			u         domain.Update
			blob      []byte
			commit    int64
			created   int64
			rawStatus string
		)
		scanErr := rows.Scan(
			&u.ID,
			&u.ScopeKey,
			&blob,
			&u.RuntimeVersion,
			&commit,
			&created,
			&u.IsDevelopment,
			&u.LaunchAssetKey,
			&rawStatus,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan update: %w", scanErr)
		}
		u.CommitTime = time.Unix(0, commit).UTC()
		u.CreatedAt = time.Unix(0, created).UTC()
		if u.Status, err = domain.ParseUpdateStatus(rawStatus); err != nil {
			return nil, fmt.Errorf("update %s: %w", u.ID, err)
		}
		if u.Metadata, err = decodeBlob(blob); err != nil {
			return nil, fmt.Errorf("decode manifest blob for %s: %w", u.ID, err)
		}
		index[u.ID] = len(updates)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := loadAssets(ctx, q, updates, index); err != nil {
		return nil, err
	}
	return updates, nil
}

func loadAssets(ctx context.Context, q querier, updates []domain.Update, index map[string]int) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(updates)), ",")
	args := make([]any, 0, len(updates))
	for _, u := range updates {
		args = append(args, u.ID)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT update_id, key, source_locator, local_path, hash, content_type, is_launch_asset, status
		FROM assets WHERE update_id IN (`+placeholders+`)
		ORDER BY update_id, position`, args...)
	if err != nil {
		return fmt.Errorf("query assets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			a         domain.Asset
			rawStatus string
		)
		scanErr := rows.Scan(
			&a.UpdateID,
			&a.Key,
			&a.SourceLocator,
			&a.LocalPath,
			&a.Hash,
			&a.ContentType,
			&a.IsLaunchAsset,
			&rawStatus,
		)
		if scanErr != nil {
			return fmt.Errorf("scan asset: %w", scanErr)
		}
		if a.Status, err = domain.ParseAssetStatus(rawStatus); err != nil {
			return fmt.Errorf("asset %s/%s: %w", a.UpdateID, a.Key, err)
		}
		i, ok := index[a.UpdateID]
		if !ok {
			continue
		}
		updates[i].Assets = append(updates[i].Assets, a)
	}
	return rows.Err()
}
