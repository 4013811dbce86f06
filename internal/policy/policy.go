// Package policy decides which update to launch and whether a freshly
// fetched update is worth adopting.
package policy

import (
	"sort"

	"launchpad/internal/domain"
)

// Constraints scope selection to updates this binary can run.
type Constraints struct {
	RuntimeVersion string
	// ScopeKey limits candidates to one update source. Empty matches any.
	ScopeKey         string
	AllowDevelopment bool
}

// Policy is a pure selection rule. Implementations must be deterministic.
type Policy interface {
	// SelectLaunchable picks the single update to launch. The embedded
	// update competes with the candidates when it is compatible and
	// complete, so it is also the fallback when no candidate is eligible.
	SelectLaunchable(candidates []domain.Update, embedded domain.Update, c Constraints) (domain.Update, bool)

	// ShouldLoadNewUpdate reports whether fetched should be persisted for
	// the next launch given the currently launched update.
	ShouldLoadNewUpdate(fetched, launched domain.Update, hasLaunched bool, c Constraints) bool
}

// Newest prefers the most recently committed update.
//
// Order: commit time descending, then created-at descending, then id
// ascending. The id tie-break makes the order total.
type Newest struct{}

var _ Policy = Newest{}

// SelectLaunchable implements Policy.
func (Newest) SelectLaunchable(candidates []domain.Update, embedded domain.Update, c Constraints) (domain.Update, bool) {
	var best domain.Update
	found := false
	for _, u := range candidates {
		if !Eligible(u, c) {
			continue
		}
		if !found || Precedes(u, best) {
			best = u
			found = true
		}
	}
	// The embedded update is not scoped to a source. A catalog record
	// left behind by an older binary must not shadow a newer bundle.
	if embedded.ID != "" && embedded.RuntimeVersion == c.RuntimeVersion && embedded.IsComplete() {
		if !found || Precedes(embedded, best) {
			best = embedded
			found = true
		}
	}
	if !found {
		return domain.Update{}, false
	}
	return best.Clone(), true
}

// ShouldLoadNewUpdate implements Policy.
func (Newest) ShouldLoadNewUpdate(fetched, launched domain.Update, hasLaunched bool, c Constraints) bool {
	if !compatible(fetched, c) {
		return false
	}
	if !hasLaunched {
		return true
	}
	if fetched.ID == launched.ID {
		return false
	}
	if !fetched.CommitTime.Equal(launched.CommitTime) {
		return fetched.CommitTime.After(launched.CommitTime)
	}
	return fetched.CreatedAt.After(launched.CreatedAt)
}

// Eligible reports whether u may be launched under c.
func Eligible(u domain.Update, c Constraints) bool {
	return compatible(u, c) && u.Status == domain.UpdateStatusReady && u.IsComplete()
}

func compatible(u domain.Update, c Constraints) bool {
	if u.RuntimeVersion != c.RuntimeVersion {
		return false
	}
	if c.ScopeKey != "" && u.ScopeKey != c.ScopeKey {
		return false
	}
	return c.AllowDevelopment || !u.IsDevelopment
}

// Precedes reports whether a sorts before b in the Newest order.
func Precedes(a, b domain.Update) bool {
	if !a.CommitTime.Equal(b.CommitTime) {
		return a.CommitTime.After(b.CommitTime)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders updates best first.
func Sort(updates []domain.Update) {
	sort.SliceStable(updates, func(i, j int) bool { return Precedes(updates[i], updates[j]) })
}
