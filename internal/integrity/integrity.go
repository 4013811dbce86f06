// Package integrity parses and verifies asset hashes.
//
// Manifests name each asset's digest either as bare hex (sha256) or with
// an algorithm prefix: "sha256:<hex>" or "blake3:<hex>". Digests are
// normalised to the prefixed form before they are stored in the catalog so
// that two spellings of the same digest compare equal.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// digestSize is the same for both algorithms.
const digestSize = 32

var (
	// ErrMismatch reports a digest that does not match the content.
	ErrMismatch = errors.New("checksum verification failed")
	// ErrInvalidDigest reports an unparseable digest string.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Digest is a parsed asset hash.
type Digest struct {
	Algorithm Algorithm
	Sum       [digestSize]byte
}

// Parse accepts "<hex>", "sha256:<hex>" or "blake3:<hex>".
func Parse(raw string) (Digest, error) {
	s := strings.TrimSpace(raw)
	alg := SHA256
	if name, rest, ok := strings.Cut(s, ":"); ok {
		alg = Algorithm(strings.ToLower(name))
		s = rest
	}
	if alg != SHA256 && alg != BLAKE3 {
		return Digest{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidDigest, alg)
	}
	decoded, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(decoded) != digestSize {
		return Digest{}, fmt.Errorf("%w: digest is %d bytes, want %d", ErrInvalidDigest, len(decoded), digestSize)
	}
	d := Digest{Algorithm: alg}
	copy(d.Sum[:], decoded)
	return d, nil
}

// Normalize returns the canonical "<alg>:<hex>" spelling of raw.
func Normalize(raw string) (string, error) {
	d, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// String returns the canonical prefixed form.
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex()
}

// Hex returns the bare hex digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum[:])
}

// IsZero reports whether d was never set.
func (d Digest) IsZero() bool {
	return d.Algorithm == ""
}

// NewHasher returns a streaming hasher for the digest's algorithm.
func (d Digest) NewHasher() hash.Hash {
	if d.Algorithm == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Matches compares a finished hasher against d.
func (d Digest) Matches(h hash.Hash) bool {
	sum := h.Sum(nil)
	if len(sum) != digestSize {
		return false
	}
	var got [digestSize]byte
	copy(got[:], sum)
	return got == d.Sum
}

// Sum computes the digest of r with the given algorithm.
func Sum(alg Algorithm, r io.Reader) (Digest, error) {
	d := Digest{Algorithm: alg}
	h := d.NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("hash content: %w", err)
	}
	copy(d.Sum[:], h.Sum(nil))
	return d, nil
}

// VerifyFile verifies a file against an expected digest string.
func VerifyFile(path, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}
	//nolint:gosec // G304: Path comes from the catalog; this is intentional for checksum verification
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	got, err := Sum(want.Algorithm, f)
	if err != nil {
		return err
	}
	if got.Sum != want.Sum {
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, want, got)
	}
	return nil
}
