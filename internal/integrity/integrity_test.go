package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func blake3Hex(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestParseAcceptsSpellings(t *testing.T) {
	h := sha256Hex("bundle")
	cases := []struct {
		raw  string
		want Algorithm
	}{
		{h, SHA256},
		{"sha256:" + h, SHA256},
		{"SHA256:" + strings.ToUpper(h), SHA256},
		{"blake3:" + blake3Hex("bundle"), BLAKE3},
	}
	for _, tc := range cases {
		d, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.raw, err)
		}
		if d.Algorithm != tc.want {
			t.Fatalf("Parse(%q).Algorithm = %q, want %q", tc.raw, d.Algorithm, tc.want)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "md5:abcd", "sha256:zz", "abcd"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidDigest) {
			t.Fatalf("Parse(%q) error = %v, want ErrInvalidDigest", raw, err)
		}
	}
}

func TestNormalizeIsCanonical(t *testing.T) {
	h := sha256Hex("x")
	a, err := Normalize(h)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b, err := Normalize("sha256:" + strings.ToUpper(h))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a != b || a != "sha256:"+h {
		t.Fatalf("Normalize gave %q and %q", a, b)
	}
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset.js")
	if err := os.WriteFile(path, []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := VerifyFile(path, sha256Hex("console.log(1)")); err != nil {
		t.Fatalf("VerifyFile sha256: %v", err)
	}
	if err := VerifyFile(path, "blake3:"+blake3Hex("console.log(1)")); err != nil {
		t.Fatalf("VerifyFile blake3: %v", err)
	}
	err := VerifyFile(path, sha256Hex("something else"))
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("VerifyFile mismatch error = %v, want ErrMismatch", err)
	}
}

func TestStreamingHasherMatches(t *testing.T) {
	d, err := Parse("blake3:" + blake3Hex("payload"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	h := d.NewHasher()
	_, _ = h.Write([]byte("pay"))
	_, _ = h.Write([]byte("load"))
	if !d.Matches(h) {
		t.Fatal("streamed blake3 hash should match")
	}
}
