package domain

import "testing"

func completeUpdate() Update {
	return Update{
		ID:             "0b8c9a4e-0000-4000-8000-000000000001",
		RuntimeVersion: "1.0",
		LaunchAssetKey: "bundle",
		Status:         UpdateStatusReady,
		Assets: []Asset{
			{Key: "bundle", Hash: "sha256:aa", LocalPath: "/u/1/bundle.js", Status: AssetStatusDownloaded, IsLaunchAsset: true},
			{Key: "logo", Hash: "sha256:bb", LocalPath: "/u/1/logo.png", Status: AssetStatusDownloaded},
		},
	}
}

func TestIsCompleteRequiresEveryAsset(t *testing.T) {
	u := completeUpdate()
	if !u.IsComplete() {
		t.Fatal("expected update with all assets downloaded to be complete")
	}

	pending := u.Clone()
	pending.Assets[1].Status = AssetStatusPending
	if pending.IsComplete() {
		t.Fatal("an update with a pending asset must not be complete")
	}

	noHash := u.Clone()
	noHash.Assets[0].Hash = ""
	if noHash.IsComplete() {
		t.Fatal("an update with an unhashed asset must not be complete")
	}

	missingLaunch := u.Clone()
	missingLaunch.LaunchAssetKey = "other"
	if missingLaunch.IsComplete() {
		t.Fatal("an update whose launch asset is absent must not be complete")
	}

	if (Update{}).IsComplete() {
		t.Fatal("an update without assets must not be complete")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	u := completeUpdate()
	u.Metadata = map[string]any{"branch": "main"}
	c := u.Clone()
	c.Assets[0].LocalPath = "/elsewhere"
	c.Metadata["branch"] = "dev"

	if u.Assets[0].LocalPath != "/u/1/bundle.js" {
		t.Fatal("Clone shares the asset slice")
	}
	if u.Metadata["branch"] != "main" {
		t.Fatal("Clone shares the metadata map")
	}
}

func TestValidate(t *testing.T) {
	if err := completeUpdate().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	dup := completeUpdate()
	dup.Assets = append(dup.Assets, Asset{Key: "logo"})
	if err := dup.Validate(); err == nil {
		t.Fatal("duplicate asset keys must be rejected")
	}

	noRuntime := completeUpdate()
	noRuntime.RuntimeVersion = ""
	if err := noRuntime.Validate(); err == nil {
		t.Fatal("missing runtime version must be rejected")
	}

	badLaunch := completeUpdate()
	badLaunch.LaunchAssetKey = "missing"
	if err := badLaunch.Validate(); err == nil {
		t.Fatal("launch asset outside the asset list must be rejected")
	}
}

func TestLaunchAsset(t *testing.T) {
	a, ok := completeUpdate().LaunchAsset()
	if !ok || a.Key != "bundle" {
		t.Fatalf("LaunchAsset = %+v, %v", a, ok)
	}
}
