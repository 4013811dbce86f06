package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/logging"
	"launchpad/internal/policy"
)

type fixture struct {
	dir     string
	catalog *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(context.Background(), filepath.Join(dir, DefaultFileName), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{dir: dir, catalog: c}
}

// writeAsset stores content under the fixture directory and returns its
// path and sha256 digest.
func (f *fixture) writeAsset(t *testing.T, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	sum := sha256.Sum256([]byte(content))
	return path, "sha256:" + hex.EncodeToString(sum[:])
}

func hashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func newUpdate(id string, commit time.Time) domain.Update {
	return domain.Update{
		ID:             id,
		ScopeKey:       "scope",
		CreatedAt:      commit,
		RuntimeVersion: "1.0",
		CommitTime:     commit,
		LaunchAssetKey: "bundle",
		Metadata:       map[string]any{"branch": "main"},
	}
}

func (f *fixture) downloadedAssets(t *testing.T, id string) []domain.Asset {
	t.Helper()
	bundlePath, bundleHash := f.writeAsset(t, id+"-bundle.js", "bundle "+id)
	logoPath, logoHash := f.writeAsset(t, id+"-logo.png", "logo "+id)
	return []domain.Asset{
		{Key: "bundle", SourceLocator: "bundle.js", LocalPath: bundlePath, Hash: bundleHash, Status: domain.AssetStatusDownloaded},
		{Key: "logo", SourceLocator: "logo.png", LocalPath: logoPath, Hash: logoHash, Status: domain.AssetStatusDownloaded},
	}
}

func TestInsertCompleteUpdateIsLaunchableAfterReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	commit := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	update := newUpdate("11111111-1111-4111-8111-111111111111", commit)

	if err := f.catalog.Insert(ctx, update, f.downloadedAssets(t, "a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.catalog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, filepath.Join(f.dir, DefaultFileName), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	launchable, err := reopened.AllLaunchableUpdates(ctx)
	if err != nil {
		t.Fatalf("AllLaunchableUpdates: %v", err)
	}
	if len(launchable) != 1 {
		t.Fatalf("expected one launchable update, got %d", len(launchable))
	}
	got := launchable[0]
	if got.ID != update.ID || got.Status != domain.UpdateStatusReady || !got.IsComplete() {
		t.Fatalf("unexpected update after reopen: %+v", got)
	}
	if !got.CommitTime.Equal(commit) {
		t.Fatalf("commit time mismatch: %v", got.CommitTime)
	}
	if got.Metadata["branch"] != "main" {
		t.Fatalf("metadata not round-tripped: %v", got.Metadata)
	}
	if len(got.Assets) != 2 || got.Assets[0].Key != "bundle" || !got.Assets[0].IsLaunchAsset {
		t.Fatalf("assets not round-tripped in order: %+v", got.Assets)
	}

	p := policy.Newest{}
	constraints := policy.Constraints{RuntimeVersion: "1.0"}
	first, ok := p.SelectLaunchable(launchable, domain.Update{}, constraints)
	if !ok || first.ID != update.ID {
		t.Fatalf("expected selection of %s, got %+v (%v)", update.ID, first, ok)
	}
	again, _ := p.SelectLaunchable(launchable, domain.Update{}, constraints)
	if again.ID != first.ID {
		t.Fatal("selection over the reopened catalog is not deterministic")
	}
}

func TestInsertRejectsExistingID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	update := newUpdate("22222222-2222-4222-8222-222222222222", time.Unix(100, 0))
	if err := f.catalog.Insert(ctx, update, f.downloadedAssets(t, "b")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	changed := update
	changed.RuntimeVersion = "2.0"
	err := f.catalog.Insert(ctx, changed, f.downloadedAssets(t, "b2"))
	if !errors.Is(err, ErrUpdateExists) {
		t.Fatalf("expected ErrUpdateExists, got %v", err)
	}
	if !appErrors.IsCode(err, appErrors.CodeCatalog) {
		t.Fatalf("expected catalog error code, got %v", err)
	}

	stored, ok, err := f.catalog.Update(ctx, update.ID)
	if err != nil || !ok {
		t.Fatalf("Update: %v, %v", ok, err)
	}
	if stored.RuntimeVersion != "1.0" {
		t.Fatalf("existing record was modified: %+v", stored)
	}
}

func TestInsertIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.catalog.writer.ExecContext(ctx, `
		CREATE TRIGGER poison BEFORE INSERT ON assets
		WHEN NEW.key = 'poison'
		BEGIN SELECT RAISE(ABORT, 'interrupted'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	update := newUpdate("33333333-3333-4333-8333-333333333333", time.Unix(100, 0))
	assets := f.downloadedAssets(t, "c")
	assets = append(assets, domain.Asset{Key: "poison", Hash: hashOf("p"), LocalPath: "/nowhere", Status: domain.AssetStatusDownloaded})

	if err := f.catalog.Insert(ctx, update, assets); err == nil {
		t.Fatal("expected insert to fail")
	}
	if _, ok, err := f.catalog.Update(ctx, update.ID); err != nil || ok {
		t.Fatalf("partially inserted update is visible: ok=%v err=%v", ok, err)
	}
	all, err := f.catalog.AllUpdates(ctx)
	if err != nil {
		t.Fatalf("AllUpdates: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no updates, got %d", len(all))
	}
	var count int
	if err := f.catalog.reader.QueryRowContext(ctx, `SELECT COUNT(1) FROM assets`).Scan(&count); err != nil {
		t.Fatalf("count assets: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no asset rows, got %d", count)
	}
}

func TestInsertRejectsInvalidUpdate(t *testing.T) {
	f := newFixture(t)
	update := newUpdate("44444444-4444-4444-8444-444444444444", time.Unix(100, 0))
	update.LaunchAssetKey = "missing"
	err := f.catalog.Insert(context.Background(), update, f.downloadedAssets(t, "d"))
	if !appErrors.IsCode(err, appErrors.CodeCatalog) {
		t.Fatalf("expected catalog error, got %v", err)
	}
}

func TestPendingUpdatePromotedByMarkAssetDownloaded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	update := newUpdate("55555555-5555-4555-8555-555555555555", time.Unix(100, 0))
	assets := f.downloadedAssets(t, "e")
	pending := assets[1]
	assets[1].Status = domain.AssetStatusPending
	assets[1].LocalPath = ""

	if err := f.catalog.Insert(ctx, update, assets); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	stored, _, _ := f.catalog.Update(ctx, update.ID)
	if stored.Status != domain.UpdateStatusPending {
		t.Fatalf("expected pending update, got %s", stored.Status)
	}
	launchable, _ := f.catalog.AllLaunchableUpdates(ctx)
	if len(launchable) != 0 {
		t.Fatal("incomplete update must not be launchable")
	}

	pending.UpdateID = update.ID
	for i := 0; i < 2; i++ {
		if err := f.catalog.MarkAssetDownloaded(ctx, pending, pending.LocalPath, pending.Hash); err != nil {
			t.Fatalf("MarkAssetDownloaded (call %d): %v", i+1, err)
		}
	}

	launchable, err := f.catalog.AllLaunchableUpdates(ctx)
	if err != nil {
		t.Fatalf("AllLaunchableUpdates: %v", err)
	}
	if len(launchable) != 1 || !launchable[0].IsComplete() {
		t.Fatalf("expected promoted update, got %+v", launchable)
	}
	if launchable[0].Assets[1].LocalPath != pending.LocalPath {
		t.Fatalf("asset path not recorded: %+v", launchable[0].Assets[1])
	}
}

func TestMarkBeforeInsertUsesContentIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assets := f.downloadedAssets(t, "f")
	for _, a := range assets {
		if err := f.catalog.MarkAssetDownloaded(ctx, a, a.LocalPath, a.Hash); err != nil {
			t.Fatalf("MarkAssetDownloaded: %v", err)
		}
	}
	path, ok, err := f.catalog.DownloadedFile(ctx, assets[0].Hash)
	if err != nil || !ok || path != assets[0].LocalPath {
		t.Fatalf("DownloadedFile = %q, %v, %v", path, ok, err)
	}

	// The manifest knows the hashes but not where the bytes live.
	for i := range assets {
		assets[i].LocalPath = ""
		assets[i].Status = domain.AssetStatusPending
	}
	update := newUpdate("66666666-6666-4666-8666-666666666666", time.Unix(100, 0))
	if err := f.catalog.Insert(ctx, update, assets); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	stored, _, _ := f.catalog.Update(ctx, update.ID)
	if stored.Status != domain.UpdateStatusReady || !stored.IsComplete() {
		t.Fatalf("expected ready update resolved from the content index, got %+v", stored)
	}

	if _, ok, _ := f.catalog.DownloadedFile(ctx, hashOf("unknown")); ok {
		t.Fatal("unknown hash should not resolve")
	}
}

func TestSetUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	update := newUpdate("77777777-7777-4777-8777-777777777777", time.Unix(100, 0))
	if err := f.catalog.Insert(ctx, update, f.downloadedAssets(t, "g")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := f.catalog.SetUpdateStatus(ctx, update.ID, domain.UpdateStatusFailed); err != nil {
		t.Fatalf("ready -> failed: %v", err)
	}
	launchable, _ := f.catalog.AllLaunchableUpdates(ctx)
	if len(launchable) != 0 {
		t.Fatal("failed update must not be launchable")
	}
	if err := f.catalog.SetUpdateStatus(ctx, update.ID, domain.UpdateStatusPending); err == nil {
		t.Fatal("failed -> pending must be rejected")
	}
	if err := f.catalog.SetUpdateStatus(ctx, update.ID, domain.UpdateStatusReady); err != nil {
		t.Fatalf("failed -> ready: %v", err)
	}
	if err := f.catalog.SetUpdateStatus(ctx, "missing", domain.UpdateStatusFailed); err == nil {
		t.Fatal("unknown id must be rejected")
	}
}

func TestReadersNeverObservePartialUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ids := []string{
		"88888888-8888-4888-8888-000000000001",
		"88888888-8888-4888-8888-000000000002",
		"88888888-8888-4888-8888-000000000003",
		"88888888-8888-4888-8888-000000000004",
	}
	batches := make([][]domain.Asset, len(ids))
	for i, id := range ids {
		batches[i] = f.downloadedAssets(t, id)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan error, 8)
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				updates, err := f.catalog.AllLaunchableUpdates(ctx)
				if err != nil {
					errs <- err
					return
				}
				for _, u := range updates {
					if !u.IsComplete() || len(u.Assets) != 2 {
						errs <- errors.New("observed partial update " + u.ID)
						return
					}
				}
			}
		}()
	}

	for i, id := range ids {
		if err := f.catalog.Insert(ctx, newUpdate(id, time.Unix(int64(100+i), 0)), batches[i]); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	launchable, _ := f.catalog.AllLaunchableUpdates(ctx)
	if len(launchable) != len(ids) {
		t.Fatalf("expected %d updates, got %d", len(ids), len(launchable))
	}
	for i := range ids {
		if launchable[i].ID != ids[i] {
			t.Fatalf("expected commit-time order, got %s at %d", launchable[i].ID, i)
		}
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); !appErrors.IsCode(err, appErrors.CodeCatalog) {
		t.Fatalf("expected catalog error, got %v", err)
	}
}
