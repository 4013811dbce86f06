package domain

import (
	"maps"
	"time"
)

// Update describes one downloadable application bundle version.
//
// Rules enforced:
//   - Manifest fields are immutable once written; only Status changes.
//   - An update is complete only when every asset is downloaded with a hash
//     and the launch asset is one of its assets.
type Update struct {
	ID             string
	ScopeKey       string
	CreatedAt      time.Time
	RuntimeVersion string
	CommitTime     time.Time
	IsDevelopment  bool
	LaunchAssetKey string
	Status         UpdateStatus
	// Metadata is the manifest's free-form metadata block.
	Metadata map[string]any
	Assets   []Asset
}

// Asset describes one file belonging to exactly one update.
type Asset struct {
	Key           string
	UpdateID      string
	SourceLocator string
	LocalPath     string
	Hash          string
	ContentType   string
	IsLaunchAsset bool
	Status        AssetStatus
}

// Validate checks the structural fields every persisted update needs.
func (u Update) Validate() error {
	if u.ID == "" {
		return invalidUpdateError("update id is required")
	}
	if u.RuntimeVersion == "" {
		return invalidUpdateError("runtime version is required")
	}
	if u.LaunchAssetKey == "" {
		return invalidUpdateError("launch asset is required")
	}
	seen := make(map[string]struct{}, len(u.Assets))
	for _, a := range u.Assets {
		if a.Key == "" {
			return invalidUpdateError("asset key is required")
		}
		if _, dup := seen[a.Key]; dup {
			return invalidUpdateError("duplicate asset key " + a.Key)
		}
		seen[a.Key] = struct{}{}
	}
	if _, ok := seen[u.LaunchAssetKey]; !ok {
		return invalidUpdateError("launch asset " + u.LaunchAssetKey + " is not among the assets")
	}
	return nil
}

// IsComplete reports whether every asset is downloaded with a hash.
func (u Update) IsComplete() bool {
	if len(u.Assets) == 0 {
		return false
	}
	hasLaunch := false
	for _, a := range u.Assets {
		if !a.IsDownloaded() {
			return false
		}
		if a.Key == u.LaunchAssetKey {
			hasLaunch = true
		}
	}
	return hasLaunch
}

// LaunchAsset returns the entry asset.
func (u Update) LaunchAsset() (Asset, bool) {
	for _, a := range u.Assets {
		if a.Key == u.LaunchAssetKey {
			return a, true
		}
	}
	return Asset{}, false
}

// Clone returns a deep copy so snapshots handed out never alias.
func (u Update) Clone() Update {
	out := u
	if u.Metadata != nil {
		out.Metadata = maps.Clone(u.Metadata)
	}
	if u.Assets != nil {
		out.Assets = append([]Asset(nil), u.Assets...)
	}
	return out
}

// IsDownloaded reports whether the asset is on disk with a known hash.
func (a Asset) IsDownloaded() bool {
	return a.Status == AssetStatusDownloaded && a.Hash != "" && a.LocalPath != ""
}
