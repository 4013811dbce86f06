// Package manifest parses update manifests served by a remote source or
// bundled with the binary, and converts them into domain updates.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"

	"launchpad/internal/domain"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/integrity"
)

// Asset is one file entry in a manifest.
type Asset struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Hash        string `json:"hash"`
	ContentType string `json:"contentType"`
}

// Manifest is the wire form of an update description.
type Manifest struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"createdAt"`
	RuntimeVersion string         `json:"runtimeVersion"`
	CommitTime     *time.Time     `json:"commitTime,omitempty"`
	IsDevelopment  bool           `json:"isDevelopment"`
	ScopeKey       string         `json:"scopeKey,omitempty"`
	LaunchAsset    Asset          `json:"launchAsset"`
	Assets         []Asset        `json:"assets"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Parse decodes and validates a manifest fetched from a remote source.
// Every asset must carry an integrity hash.
func Parse(data []byte) (Manifest, error) {
	return parse(data, true)
}

// ParseEmbedded decodes a bundled manifest. Comments and trailing commas
// are accepted, and asset hashes may be omitted because the launcher
// computes them while materializing the bundle.
func ParseEmbedded(data []byte) (Manifest, error) {
	return parse(jsonc.ToJSON(data), false)
}

func parse(data []byte, requireHashes bool) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, validationError("decode manifest", err)
	}

	id, err := resolveID(m.ID, data)
	if err != nil {
		return Manifest{}, err
	}
	m.ID = id

	m.RuntimeVersion = strings.TrimSpace(m.RuntimeVersion)
	if m.RuntimeVersion == "" {
		return Manifest{}, validationError("manifest is missing runtimeVersion", nil)
	}
	if m.CreatedAt.IsZero() {
		return Manifest{}, validationError("manifest is missing createdAt", nil)
	}
	if m.CommitTime == nil || m.CommitTime.IsZero() {
		created := m.CreatedAt
		m.CommitTime = &created
	}

	if m.LaunchAsset.Key == "" {
		return Manifest{}, validationError("manifest is missing launchAsset", nil)
	}
	if err := normalizeAsset(&m.LaunchAsset, requireHashes); err != nil {
		return Manifest{}, err
	}
	seen := map[string]struct{}{m.LaunchAsset.Key: {}}
	for i := range m.Assets {
		if err := normalizeAsset(&m.Assets[i], requireHashes); err != nil {
			return Manifest{}, err
		}
		if _, dup := seen[m.Assets[i].Key]; dup {
			return Manifest{}, validationError(fmt.Sprintf("duplicate asset key %q", m.Assets[i].Key), nil)
		}
		seen[m.Assets[i].Key] = struct{}{}
	}
	return m, nil
}

// resolveID validates an explicit id, or derives a stable one from the
// manifest bytes when the manifest carries none.
func resolveID(raw string, data []byte) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, data).String(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", validationError(fmt.Sprintf("manifest id %q is not a UUID", raw), err)
	}
	return id.String(), nil
}

func normalizeAsset(a *Asset, requireHash bool) error {
	a.Key = strings.TrimSpace(a.Key)
	if a.Key == "" {
		return validationError("asset is missing key", nil)
	}
	if a.URL == "" {
		a.URL = a.Key
	}
	if a.Hash == "" {
		if requireHash {
			return validationError(fmt.Sprintf("asset %q is missing hash", a.Key), nil)
		}
		return nil
	}
	normalized, err := integrity.Normalize(a.Hash)
	if err != nil {
		return validationError(fmt.Sprintf("asset %q has an invalid hash", a.Key), err)
	}
	a.Hash = normalized
	return nil
}

// Update converts the manifest into a pending domain update. The scope key
// in the manifest wins over the one derived from the source.
func (m Manifest) Update(scopeKey string) domain.Update {
	if m.ScopeKey != "" {
		scopeKey = m.ScopeKey
	}
	commit := m.CreatedAt
	if m.CommitTime != nil {
		commit = *m.CommitTime
	}
	u := domain.Update{
		ID:             m.ID,
		ScopeKey:       scopeKey,
		CreatedAt:      m.CreatedAt.UTC(),
		RuntimeVersion: m.RuntimeVersion,
		CommitTime:     commit.UTC(),
		IsDevelopment:  m.IsDevelopment,
		LaunchAssetKey: m.LaunchAsset.Key,
		Status:         domain.UpdateStatusPending,
		Metadata:       m.Metadata,
	}
	u.Assets = make([]domain.Asset, 0, len(m.Assets)+1)
	u.Assets = append(u.Assets, m.LaunchAsset.asset(m.ID, true))
	for _, a := range m.Assets {
		u.Assets = append(u.Assets, a.asset(m.ID, false))
	}
	return u
}

func (a Asset) asset(updateID string, launch bool) domain.Asset {
	return domain.Asset{
		Key:           a.Key,
		UpdateID:      updateID,
		SourceLocator: a.URL,
		Hash:          a.Hash,
		ContentType:   a.ContentType,
		IsLaunchAsset: launch,
		Status:        domain.AssetStatusPending,
	}
}

func validationError(msg string, err error) error {
	return appErrors.New(appErrors.CodeManifestValidation, msg, err)
}
