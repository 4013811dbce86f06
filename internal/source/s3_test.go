package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects  map[string]string
	requests []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	name := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.requests = append(f.requests, name)
	body, ok := f.objects[name]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3FetchManifestAndAssets(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"releases/app/manifest.json":  `{"id":"x"}`,
		"releases/app/assets/app.js":  "bundle",
		"releases/shared/logo.png":    "logo",
		"other-bucket/fonts/font.ttf": "font",
	}}
	src := newS3WithClient(fake, "releases", "app/manifest.json")

	data, err := src.FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("FetchManifest() error: %v", err)
	}
	if string(data) != `{"id":"x"}` {
		t.Errorf("FetchManifest() = %q", data)
	}

	tests := map[string]string{
		"assets/app.js":                    "bundle",
		"/shared/logo.png":                 "logo",
		"s3://other-bucket/fonts/font.ttf": "font",
	}
	for locator, want := range tests {
		body, err := src.OpenAsset(context.Background(), locator)
		if err != nil {
			t.Fatalf("OpenAsset(%q) error: %v", locator, err)
		}
		got, _ := io.ReadAll(body)
		_ = body.Close()
		if string(got) != want {
			t.Errorf("OpenAsset(%q) = %q, want %q", locator, got, want)
		}
	}
}

func TestS3MissingObject(t *testing.T) {
	src := newS3WithClient(&fakeS3{objects: map[string]string{}}, "releases", "app/manifest.json")
	_, err := src.FetchManifest(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if IsTransient(err) {
		t.Error("missing objects must not be retried")
	}
}

func TestS3RejectsForeignLocators(t *testing.T) {
	src := newS3WithClient(&fakeS3{}, "releases", "app/manifest.json")
	if _, err := src.OpenAsset(context.Background(), "https://cdn.example.com/a.js"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://releases/app/manifest.json")
	if err != nil || bucket != "releases" || key != "app/manifest.json" {
		t.Fatalf("parseS3URL = %q, %q, %v", bucket, key, err)
	}
	for _, bad := range []string{"s3://releases", "s3:///key", "https://releases/key"} {
		if _, _, err := parseS3URL(bad); err == nil {
			t.Errorf("parseS3URL(%q) should fail", bad)
		}
	}
}

func TestS3ScopeKeyDiffersByPrefix(t *testing.T) {
	a := newS3WithClient(&fakeS3{}, "releases", "app/manifest.json")
	b := newS3WithClient(&fakeS3{}, "releases", "other/manifest.json")
	if a.ScopeKey() == "" || a.ScopeKey() == b.ScopeKey() {
		t.Fatalf("expected distinct scopes, got %q and %q", a.ScopeKey(), b.ScopeKey())
	}
}
