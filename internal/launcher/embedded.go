package launcher

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"launchpad/internal/domain"
	"launchpad/internal/integrity"
	"launchpad/internal/manifest"
)

// DefaultEmbeddedManifest is the manifest file name inside a bundle.
const DefaultEmbeddedManifest = "manifest.json"

// EmbeddedBundle is the update shipped with the binary: its manifest and
// the files it names. It is never written to the catalog.
type EmbeddedBundle struct {
	Update domain.Update
	FS     fs.FS
}

// LoadEmbedded reads the bundle manifest named name from fsys.
func LoadEmbedded(fsys fs.FS, name string) (EmbeddedBundle, error) {
	if name == "" {
		name = DefaultEmbeddedManifest
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return EmbeddedBundle{}, fmt.Errorf("read embedded manifest: %w", err)
	}
	m, err := manifest.ParseEmbedded(data)
	if err != nil {
		return EmbeddedBundle{}, err
	}
	return EmbeddedBundle{Update: m.Update(""), FS: fsys}, nil
}

// materialize copies the bundle's assets into root/<update-id>/ so the
// asset map always holds absolute paths. With bestEffort, assets that fail
// are skipped instead of aborting. The returned update marks every copied
// asset downloaded with its verified hash.
func (b EmbeddedBundle) materialize(root string, bestEffort bool) (domain.Update, error) {
	u := b.Update.Clone()
	if u.ID == "" || b.FS == nil {
		return u, fmt.Errorf("no embedded bundle")
	}
	dir := filepath.Join(root, u.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return u, fmt.Errorf("create embedded directory: %w", err)
	}

	var firstErr error
	for i := range u.Assets {
		a := &u.Assets[i]
		localPath, digest, err := b.materializeAsset(dir, *a)
		if err != nil {
			a.Status = domain.AssetStatusFailed
			if firstErr == nil {
				firstErr = fmt.Errorf("embedded asset %q: %w", a.Key, err)
			}
			if !bestEffort {
				return u, firstErr
			}
			continue
		}
		a.UpdateID = u.ID
		a.LocalPath = localPath
		a.Hash = digest.String()
		a.Status = domain.AssetStatusDownloaded
	}
	return u, firstErr
}

func (b EmbeddedBundle) materializeAsset(dir string, a domain.Asset) (string, integrity.Digest, error) {
	var want integrity.Digest
	if a.Hash != "" {
		parsed, err := integrity.Parse(a.Hash)
		if err != nil {
			return "", integrity.Digest{}, err
		}
		want = parsed
	}

	dest := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+a.Key)))
	if !want.IsZero() && integrity.VerifyFile(dest, want.String()) == nil {
		return dest, want, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", integrity.Digest{}, err
	}

	name := strings.TrimPrefix(path.Clean("/"+a.SourceLocator), "/")
	f, err := b.FS.Open(name)
	if err != nil {
		return "", integrity.Digest{}, err
	}
	defer func() { _ = f.Close() }()

	got, err := integrity.WriteFile(dest, f, want)
	if err != nil {
		return "", integrity.Digest{}, err
	}
	return dest, got, nil
}
