package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWalksWrappedChain(t *testing.T) {
	base := New(CodeCatalog, "insert update", errors.New("disk full"))
	wrapped := fmt.Errorf("loader: %w", base)

	if got := CodeOf(wrapped); got != CodeCatalog {
		t.Fatalf("CodeOf = %q, want %q", got, CodeCatalog)
	}
	if !IsCode(wrapped, CodeCatalog) {
		t.Fatal("IsCode should match through fmt.Errorf wrapping")
	}
	if IsCode(wrapped, CodeNetwork) {
		t.Fatal("IsCode should not match a different code")
	}
}

func TestCodeOfUnstructured(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("CodeOf(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		err  Error
		want string
	}{
		{"message and cause", New(CodeNetwork, "fetch manifest", errors.New("timeout")), "fetch manifest: timeout"},
		{"message only", New(CodeNoLaunchableUpdate, "nothing to launch", nil), "nothing to launch"},
		{"cause only", New(CodeCatalog, "", errors.New("locked")), "locked"},
		{"code only", New(CodeConcurrentOperation, "", nil), "concurrent_operation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("hash mismatch")
	err := New(CodeAssetIntegrity, "verify asset", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find the wrapped cause")
	}
}
