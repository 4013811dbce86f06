package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"launchpad/internal/domain"
)

func sampleReport() statusReport {
	commit := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return statusReport{
		UpdatesDirectory: "/var/lib/launchpad",
		RuntimeVersion:   "1.0",
		Enabled:          true,
		NextLaunch:       "bbbb",
		Updates: []updateSummary{
			{ID: "bbbb", Status: "ready", Runtime: "1.0", CommitTime: commit, Assets: 2, Downloaded: 2},
			{ID: "aaaa", Status: "pending", Runtime: "1.0", CommitTime: commit.Add(-time.Hour), Development: true, Assets: 2, Downloaded: 1},
		},
	}
}

func TestRenderStatusYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := renderStatus(&buf, sampleReport(), "yaml"); err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded statusReport
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, buf.String())
	}
	if decoded.NextLaunch != "bbbb" || len(decoded.Updates) != 2 || !decoded.Updates[1].Development {
		t.Fatalf("unexpected decoded report %+v", decoded)
	}
	if strings.Contains(buf.String(), "manifestUrl") {
		t.Fatalf("empty manifest URL should be omitted:\n%s", buf.String())
	}
}

func TestRenderStatusPlain(t *testing.T) {
	var buf bytes.Buffer
	if err := renderStatus(&buf, sampleReport(), "plain"); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# Updates", "**bbbb**", "aaaa (dev)", "1/2", "_none_"} {
		if !strings.Contains(out, want) {
			t.Errorf("plain status missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := renderStatus(&buf, statusReport{}, "plain"); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "No updates downloaded yet.") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestRenderStatusRejectsUnknownFormat(t *testing.T) {
	if err := renderStatus(&bytes.Buffer{}, statusReport{}, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSummarizeCountsDownloadedAssets(t *testing.T) {
	u := domain.Update{
		ID:     "cccc",
		Status: domain.UpdateStatusPending,
		Assets: []domain.Asset{
			{Key: "a", Hash: "sha256:00", LocalPath: "/a", Status: domain.AssetStatusDownloaded},
			{Key: "b", Status: domain.AssetStatusPending},
		},
	}
	s := summarize(u)
	if s.Assets != 2 || s.Downloaded != 1 || s.Status != "pending" {
		t.Fatalf("unexpected summary %+v", s)
	}
}
