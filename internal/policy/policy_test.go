package policy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/domain"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func update(id string, commitOffset time.Duration) domain.Update {
	return domain.Update{
		ID:             id,
		RuntimeVersion: "1.0",
		ScopeKey:       "scope",
		CreatedAt:      base,
		CommitTime:     base.Add(commitOffset),
		LaunchAssetKey: "bundle",
		Status:         domain.UpdateStatusReady,
		Assets: []domain.Asset{{
			Key:       "bundle",
			Hash:      "sha256:aa",
			LocalPath: "/u/" + id + "/bundle.js",
			Status:    domain.AssetStatusDownloaded,
		}},
	}
}

var constraints = Constraints{RuntimeVersion: "1.0", ScopeKey: "scope"}

func TestSelectNewestCommit(t *testing.T) {
	candidates := []domain.Update{update("a", 1*time.Hour), update("b", 3*time.Hour), update("c", 2*time.Hour)}
	got, ok := Newest{}.SelectLaunchable(candidates, domain.Update{}, constraints)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestSelectIsDeterministicUnderPermutation(t *testing.T) {
	candidates := []domain.Update{
		update("d", time.Hour),
		update("b", time.Hour),
		update("c", time.Hour),
		update("a", 30*time.Minute),
	}
	first, ok := Newest{}.SelectLaunchable(candidates, domain.Update{}, constraints)
	require.True(t, ok)
	assert.Equal(t, "b", first.ID, "equal commit and created times fall back to id order")

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		got, ok := Newest{}.SelectLaunchable(candidates, domain.Update{}, constraints)
		require.True(t, ok)
		assert.Equal(t, first.ID, got.ID)
	}
}

func TestSelectCreatedAtBreaksCommitTies(t *testing.T) {
	older := update("a", time.Hour)
	newer := update("z", time.Hour)
	newer.CreatedAt = base.Add(time.Minute)
	got, ok := Newest{}.SelectLaunchable([]domain.Update{older, newer}, domain.Update{}, constraints)
	require.True(t, ok)
	assert.Equal(t, "z", got.ID)
}

func TestSelectSkipsIneligibleCandidates(t *testing.T) {
	wrongRuntime := update("runtime", 5*time.Hour)
	wrongRuntime.RuntimeVersion = "2.0"

	wrongScope := update("scope", 5*time.Hour)
	wrongScope.ScopeKey = "other"

	incomplete := update("incomplete", 5*time.Hour)
	incomplete.Assets[0].Status = domain.AssetStatusPending

	unhashed := update("unhashed", 5*time.Hour)
	unhashed.Assets[0].Hash = ""

	failed := update("failed", 5*time.Hour)
	failed.Status = domain.UpdateStatusFailed

	development := update("dev", 5*time.Hour)
	development.IsDevelopment = true

	good := update("good", time.Hour)
	candidates := []domain.Update{wrongRuntime, wrongScope, incomplete, unhashed, failed, development, good}

	got, ok := Newest{}.SelectLaunchable(candidates, domain.Update{}, constraints)
	require.True(t, ok)
	assert.Equal(t, "good", got.ID)

	allowDev := constraints
	allowDev.AllowDevelopment = true
	got, ok = Newest{}.SelectLaunchable(candidates, domain.Update{}, allowDev)
	require.True(t, ok)
	assert.Equal(t, "dev", got.ID)
}

func TestEmptyScopeConstraintMatchesAnyScope(t *testing.T) {
	u := update("a", time.Hour)
	u.ScopeKey = "anything"
	got, ok := Newest{}.SelectLaunchable([]domain.Update{u}, domain.Update{}, Constraints{RuntimeVersion: "1.0"})
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestEmbeddedFallback(t *testing.T) {
	embedded := update("embedded", 0)
	embedded.ScopeKey = ""

	incomplete := update("incomplete", time.Hour)
	incomplete.Assets[0].Status = domain.AssetStatusPending

	got, ok := Newest{}.SelectLaunchable([]domain.Update{incomplete}, embedded, constraints)
	require.True(t, ok)
	assert.Equal(t, "embedded", got.ID)

	got, ok = Newest{}.SelectLaunchable(nil, embedded, constraints)
	require.True(t, ok)
	assert.Equal(t, "embedded", got.ID)

	embedded.RuntimeVersion = "0.9"
	_, ok = Newest{}.SelectLaunchable(nil, embedded, constraints)
	assert.False(t, ok, "an incompatible embedded update is not launchable")

	_, ok = Newest{}.SelectLaunchable(nil, domain.Update{}, constraints)
	assert.False(t, ok)
}

func TestEmbeddedCompetesWithCandidates(t *testing.T) {
	embedded := update("embedded", 10*time.Hour)
	embedded.ScopeKey = ""
	stale := update("stale", time.Hour)
	got, ok := Newest{}.SelectLaunchable([]domain.Update{stale}, embedded, constraints)
	require.True(t, ok)
	assert.Equal(t, "embedded", got.ID, "a newer embedded bundle wins over an older download")

	fresh := update("fresh", 20*time.Hour)
	got, ok = Newest{}.SelectLaunchable([]domain.Update{stale, fresh}, embedded, constraints)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID)
}

func TestSelectReturnsIndependentCopy(t *testing.T) {
	candidates := []domain.Update{update("a", time.Hour)}
	got, _ := Newest{}.SelectLaunchable(candidates, domain.Update{}, constraints)
	got.Assets[0].LocalPath = "/mutated"
	assert.Equal(t, "/u/a/bundle.js", candidates[0].Assets[0].LocalPath)
}

func TestShouldLoadNewUpdate(t *testing.T) {
	launched := update("launched", time.Hour)

	cases := []struct {
		name        string
		fetched     domain.Update
		hasLaunched bool
		want        bool
	}{
		{"nothing launched", update("x", 0), false, true},
		{"newer commit", update("x", 2*time.Hour), true, true},
		{"older commit", update("x", 0), true, false},
		{"same id", launched, true, false},
		{"same commit older id", update("a", time.Hour), true, false},
		{"wrong runtime", func() domain.Update { u := update("x", 2*time.Hour); u.RuntimeVersion = "2.0"; return u }(), true, false},
		{"development", func() domain.Update { u := update("x", 2*time.Hour); u.IsDevelopment = true; return u }(), true, false},
		{"wrong scope", func() domain.Update { u := update("x", 2*time.Hour); u.ScopeKey = "other"; return u }(), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Newest{}.ShouldLoadNewUpdate(tc.fetched, launched, tc.hasLaunched, constraints)
			assert.Equal(t, tc.want, got)
		})
	}

	newerCreated := update("x", time.Hour)
	newerCreated.CreatedAt = base.Add(time.Minute)
	assert.True(t, Newest{}.ShouldLoadNewUpdate(newerCreated, launched, true, constraints))
}

func TestSort(t *testing.T) {
	updates := []domain.Update{update("a", time.Hour), update("c", 3*time.Hour), update("b", 3*time.Hour)}
	Sort(updates)
	ids := []string{updates[0].ID, updates[1].ID, updates[2].ID}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}
