// Package expdecay tracks per-tile request heat with exponentially
// decaying counters. Scores are sharded by cache key so the request
// hot path never contends on a single lock.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mapfold/tileserv/internal/hotness"
)

const shardCount = 64

// A tile pyramid has far more cells than ever stay warm; sweeping while
// a shard lock is already held keeps the map bounded without a
// background goroutine.
const (
	sweepEvery = 4096
	coldFloor  = 0.01
)

type Tracker struct {
	now    func() time.Time
	lambda float64 // decay rate derived from the configured half-life

	shards [shardCount]shard
}

type shard struct {
	mu     sync.Mutex
	scores map[string]entry
	ops    int
}

type entry struct {
	heat    float64
	touched time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{
		now:    time.Now,
		lambda: math.Ln2 / halfLife.Seconds(),
	}
	for i := range t.shards {
		t.shards[i].scores = make(map[string]entry)
	}
	return t
}

// Inc records one request for key, decaying whatever heat the tile had
// accumulated before adding the new hit.
func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := &t.shards[shardFor(key)]
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.scores[key]
	if !ok {
		s.scores[key] = entry{heat: 1, touched: now}
	} else {
		s.scores[key] = entry{
			heat:    t.fade(e.heat, now.Sub(e.touched)) + 1,
			touched: now,
		}
	}
	if s.ops++; s.ops >= sweepEvery {
		s.ops = 0
		s.sweep(t, now)
	}
}

// Score returns the decayed heat of key as of now. Unknown keys are 0.
func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := &t.shards[shardFor(key)]
	now := t.now()

	s.mu.Lock()
	e, ok := s.scores[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.fade(e.heat, now.Sub(e.touched))
}

// Reset forgets the given keys, typically after their tiles were
// invalidated.
func (t *Tracker) Reset(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		s := &t.shards[shardFor(key)]
		s.mu.Lock()
		delete(s.scores, key)
		s.mu.Unlock()
	}
}

// Size reports the number of tracked tiles across all shards.
func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].scores)
		t.shards[i].mu.Unlock()
	}
	return total
}

func (t *Tracker) fade(heat float64, age time.Duration) float64 {
	if age <= 0 {
		return heat
	}
	return heat * math.Exp(-t.lambda*age.Seconds())
}

func (s *shard) sweep(t *Tracker, now time.Time) {
	for k, e := range s.scores {
		if t.fade(e.heat, now.Sub(e.touched)) < coldFloor {
			delete(s.scores, k)
		}
	}
}

func shardFor(key string) int {
	return int(xxhash.Sum64String(key) & (shardCount - 1))
}
