package integrity

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFile streams r into path while hashing it. The bytes land in a
// temporary file in the same directory, are fsynced, and are renamed into
// place only when they match want. A zero want accepts any content and
// records its sha256. Readers never see a partial or unverified file.
func WriteFile(path string, r io.Reader, want Digest) (Digest, error) {
	alg := want.Algorithm
	if want.IsZero() {
		alg = SHA256
	}
	got := Digest{Algorithm: alg}
	hasher := got.NewHasher()

	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return Digest{}, fmt.Errorf("create temporary file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := io.Copy(io.MultiWriter(file, hasher), r); err != nil {
		_ = file.Close()
		_ = os.Remove(temporaryPath)
		return Digest{}, fmt.Errorf("write temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(temporaryPath)
		return Digest{}, fmt.Errorf("sync temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(temporaryPath)
		return Digest{}, fmt.Errorf("close temporary file: %w", err)
	}

	copy(got.Sum[:], hasher.Sum(nil))
	if !want.IsZero() && got.Sum != want.Sum {
		_ = os.Remove(temporaryPath)
		return Digest{}, fmt.Errorf("%w: expected %s, got %s", ErrMismatch, want, got)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		_ = os.Remove(temporaryPath)
		return Digest{}, fmt.Errorf("rename into place: %w", err)
	}

	// Make the rename durable across power loss.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return got, nil
}
