// Package service resolves tile requests: grid cell to layer queries to
// encoded tile, with the cache in front.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mapfold/tileserv/internal/cache"
	"github.com/mapfold/tileserv/internal/cache/keys"
	"github.com/mapfold/tileserv/internal/datasource"
	"github.com/mapfold/tileserv/internal/grid"
	"github.com/mapfold/tileserv/internal/hotness"
	"github.com/mapfold/tileserv/internal/mvt"
	"github.com/mapfold/tileserv/internal/observability"
	"github.com/mapfold/tileserv/internal/tileset"
)

var (
	ErrTilesetNotFound = errors.New("tileset not found")
	ErrTileOutOfRange  = errors.New("tile out of range")
)

type Service struct {
	log          *slog.Logger
	tilesets     map[string]*tileset.Tileset
	order        []string
	fingerprints map[string]uint64
	sources      map[string]datasource.Source
	store        cache.Interface
	hot          hotness.Interface
	bands        hotness.Bands
	maxWorkers   int
}

type Options struct {
	Logger     *slog.Logger
	Hotness    hotness.Interface
	Bands      hotness.Bands
	MaxWorkers int
}

func New(tilesets []*tileset.Tileset, sources map[string]datasource.Source, store cache.Interface, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}

	s := &Service{
		log:          opts.Logger,
		tilesets:     make(map[string]*tileset.Tileset, len(tilesets)),
		fingerprints: make(map[string]uint64, len(tilesets)),
		sources:      sources,
		store:        store,
		hot:          opts.Hotness,
		bands:        opts.Bands,
		maxWorkers:   opts.MaxWorkers,
	}
	for _, ts := range tilesets {
		if _, dup := s.tilesets[ts.Name]; dup {
			return nil, fmt.Errorf("duplicate tileset %q", ts.Name)
		}
		for i := range ts.Layers {
			l := &ts.Layers[i]
			if _, ok := sources[l.Datasource]; !ok {
				return nil, fmt.Errorf("tileset %q layer %q: unknown datasource %q",
					ts.Name, l.Name, l.Datasource)
			}
		}
		s.tilesets[ts.Name] = ts
		s.fingerprints[ts.Name] = ts.Fingerprint()
		s.order = append(s.order, ts.Name)
	}
	return s, nil
}

// Tilesets returns the tilesets in configuration order.
func (s *Service) Tilesets() []*tileset.Tileset {
	out := make([]*tileset.Tileset, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tilesets[name])
	}
	return out
}

func (s *Service) Tileset(name string) (*tileset.Tileset, bool) {
	ts, ok := s.tilesets[name]
	return ts, ok
}

// Tile serves one gzipped tile addressed XYZ. A nil slice with a nil
// error means the tile is valid but empty.
func (s *Service) Tile(ctx context.Context, name string, zoom int, x, y uint32) ([]byte, error) {
	ts, ok := s.tilesets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTilesetNotFound, name)
	}
	if zoom < ts.MinZoom || zoom > ts.MaxZoom || !ts.Grid.Contains(zoom, x, y) {
		return nil, fmt.Errorf("%w: %s/%d/%d/%d", ErrTileOutOfRange, name, zoom, x, y)
	}

	key := keys.Tile(name, zoom, x, y, s.fingerprints[name])

	ttl := s.bands.Default
	if s.hot != nil {
		s.hot.Inc(key)
		ttl = s.bands.For(s.hot.Score(key))
	}

	if b, err := s.store.Get(ctx, key); err == nil {
		observability.IncCacheHit("store")
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("cache get failed, rendering", "key", key, "err", err)
	}
	observability.IncCacheMiss("store")

	data, err := s.render(ctx, ts, zoom, x, y)
	if err != nil {
		return nil, err
	}

	// empty tiles are cached as zero-length values so ocean and desert
	// cells don't requery every layer
	if err := s.store.Set(ctx, key, data, ttl); err != nil {
		s.log.Warn("cache set failed", "key", key, "err", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

type layerResult struct {
	idx   int
	feats []mvt.Feature
	err   error
}

func (s *Service) render(ctx context.Context, ts *tileset.Tileset, zoom int, x, y uint32) ([]byte, error) {
	tileExt, err := ts.Grid.TileExtentXYZ(zoom, x, y)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d/%d/%d", ErrTileOutOfRange, ts.Name, zoom, x, y)
	}
	res, err := ts.Grid.Resolution(zoom)
	if err != nil {
		return nil, err
	}
	pixelWidth, err := ts.Grid.PixelWidth(zoom)
	if err != nil {
		return nil, err
	}
	scaleDenom, err := ts.Grid.ScaleDenominator(zoom)
	if err != nil {
		return nil, err
	}

	// layers whose zoom range covers this tile
	var active []int
	for i := range ts.Layers {
		if ts.Layers[i].QueryForZoom(zoom) != nil {
			active = append(active, i)
		}
	}

	collected := make([][]mvt.Feature, len(ts.Layers))
	if len(active) > 0 {
		jobs := make(chan int, len(active))
		results := make(chan layerResult, len(active))

		workerN := min(s.maxWorkers, len(active))
		var wg sync.WaitGroup
		wg.Add(workerN)
		for range workerN {
			go func() {
				defer wg.Done()
				for idx := range jobs {
					if ctx.Err() != nil {
						return
					}
					l := &ts.Layers[idx]
					q := datasource.TileQuery{
						Extent:           bufferedExtent(tileExt, l.BufferSize, res),
						Zoom:             zoom,
						PixelWidth:       pixelWidth,
						ScaleDenominator: scaleDenom,
					}
					feats, err := s.sources[l.Datasource].SelectFeatures(ctx, l, q)
					results <- layerResult{idx: idx, feats: feats, err: err}
				}
			}()
		}
		for _, idx := range active {
			jobs <- idx
		}
		close(jobs)
		wg.Wait()
		close(results)

		for r := range results {
			if r.err != nil {
				return nil, fmt.Errorf("tileset %q layer %q: %w",
					ts.Name, ts.Layers[r.idx].Name, r.err)
			}
			collected[r.idx] = r.feats
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encodeStart := time.Now()
	// world y grows north while tile screen y grows down; the origin
	// corner only governs tile row numbering, which TileExtentXYZ has
	// already normalized
	tile := mvt.NewTile(tileExt, true)
	for _, idx := range active {
		l := &ts.Layers[idx]
		ml := tile.NewLayer(l.Name, l.TileSize)
		for _, f := range collected[idx] {
			if err := tile.AddFeature(ml, f); err != nil {
				s.log.Warn("skipping feature",
					"tileset", ts.Name, "layer", l.Name, "err", err)
			}
		}
	}

	if tile.IsEmpty() {
		return nil, nil
	}
	data, err := tile.MarshalGzipped()
	if err != nil {
		return nil, fmt.Errorf("encode tile %s/%d/%d/%d: %w", ts.Name, zoom, x, y, err)
	}
	observability.ObserveTileEncode(ts.Name, time.Since(encodeStart).Seconds(), len(data))
	return data, nil
}

// bufferedExtent widens a tile extent by a pixel buffer at the zoom's
// resolution so edge features survive clipping.
func bufferedExtent(ext grid.Extent, bufferPx int, res float64) grid.Extent {
	if bufferPx <= 0 {
		return ext
	}
	d := float64(bufferPx) * res
	ext.MinX -= d
	ext.MinY -= d
	ext.MaxX += d
	ext.MaxY += d
	return ext
}
