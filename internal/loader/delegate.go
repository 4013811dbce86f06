package loader

import (
	"sync"

	"launchpad/internal/domain"
)

// Delegate receives loader progress. Callbacks for one run are never
// invoked concurrently.
type Delegate interface {
	// ShouldLoad is consulted after the policy accepts a fetched manifest.
	// Returning false finishes the run with KindNotNewer.
	ShouldLoad(update domain.Update) bool
	// AssetLoaded reports one asset on disk and recorded in the catalog.
	AssetLoaded(asset domain.Asset, finished, total int)
	// AssetFailed reports one asset that could not be loaded. Remaining
	// assets continue.
	AssetFailed(asset domain.Asset, err error)
	// ManifestFailed reports a manifest that could not be fetched or parsed.
	ManifestFailed(err error)
	// Finished reports the successful end of a run.
	Finished(result Result)
	// Failed reports the terminal failure of a run.
	Failed(err error)
}

// NopDelegate accepts every update and ignores all events. Embed it to
// implement only the callbacks of interest.
type NopDelegate struct{}

func (NopDelegate) ShouldLoad(domain.Update) bool      { return true }
func (NopDelegate) AssetLoaded(domain.Asset, int, int) {}
func (NopDelegate) AssetFailed(domain.Asset, error)    {}
func (NopDelegate) ManifestFailed(error)               {}
func (NopDelegate) Finished(Result)                    {}
func (NopDelegate) Failed(error)                       {}

var _ Delegate = NopDelegate{}

// serialDelegate funnels callbacks from download goroutines through one lock.
type serialDelegate struct {
	mu sync.Mutex
	d  Delegate
}

func (s *serialDelegate) ShouldLoad(u domain.Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ShouldLoad(u)
}

func (s *serialDelegate) AssetLoaded(a domain.Asset, finished, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.AssetLoaded(a, finished, total)
}

func (s *serialDelegate) AssetFailed(a domain.Asset, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.AssetFailed(a, err)
}

func (s *serialDelegate) ManifestFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.ManifestFailed(err)
}

func (s *serialDelegate) Finished(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.Finished(r)
}

func (s *serialDelegate) Failed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.Failed(err)
}
