// Package hotness tracks per-tile request hotness and maps scores to
// cache TTL bands.
package hotness

import (
	"time"

	"github.com/mapfold/tileserv/internal/config"
)

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}

// Bands maps a hotness score to a cache TTL. Hot tiles stay cached
// longer, cold tiles turn over faster.
type Bands struct {
	Default time.Duration
	Hot     time.Duration
	Cold    time.Duration

	// HotScore is the decayed score at which a tile counts as hot.
	HotScore float64
}

// coldScore is the decayed score below which a tile counts as cold. A
// single recent request scores 1, so anything below that is stale.
const coldScore = 1.0

func BandsFromConfig(cfg config.Cache) Bands {
	return Bands{
		Default:  cfg.TTLDefault.Std(),
		Hot:      cfg.TTLHot.Std(),
		Cold:     cfg.TTLCold.Std(),
		HotScore: cfg.HotScore,
	}
}

func (b Bands) For(score float64) time.Duration {
	switch {
	case b.HotScore > 0 && score >= b.HotScore:
		return b.Hot
	case score < coldScore:
		return b.Cold
	default:
		return b.Default
	}
}
