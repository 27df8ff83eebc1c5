package invalidation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// appliedVersions remembers the newest applied event version per
// invalidation target (tileset or tileset/layer). Tile keys are fully
// enumerable from an event, so one decision per event suffices; the LRU
// bounds memory when publishers churn through many targets.
type appliedVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newAppliedVersions(capacity int) *appliedVersions {
	if capacity <= 0 {
		capacity = 1024
	}
	c, _ := lru.New[string, uint64](capacity)
	return &appliedVersions{seen: c}
}

// record reports whether ev is new for its target and, when it is,
// remembers its version. Events without a version always pass.
func (a *appliedVersions) record(ev Event) bool {
	if ev.Version == 0 {
		return true
	}
	target := ev.Tileset
	if ev.Layer != "" {
		target += "/" + ev.Layer
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.seen.Get(target); ok && ev.Version <= last {
		return false
	}
	a.seen.Add(target, ev.Version)
	return true
}
