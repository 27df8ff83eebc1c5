// Package tileset holds the immutable tileset/layer model resolved from
// configuration at startup.
package tileset

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/grid"
)

type Query struct {
	MinZoom int
	MaxZoom int
	SQL     string
}

type Layer struct {
	Name          string
	Datasource    string
	TableName     string
	GeometryField string
	GeometryType  string
	FidField      string
	SRID          int
	BufferSize    int // pixels
	Simplify      bool
	TileSize      uint32
	Queries       []Query
}

// QueryForZoom returns the most specific query covering z: among matching
// zoom ranges the one with the highest minzoom wins. nil means the layer
// is not rendered at this zoom.
func (l *Layer) QueryForZoom(z int) *Query {
	var best *Query
	for i := range l.Queries {
		q := &l.Queries[i]
		if z < q.MinZoom || z > q.MaxZoom {
			continue
		}
		if best == nil || q.MinZoom > best.MinZoom {
			best = q
		}
	}
	if best == nil && len(l.Queries) == 0 {
		// layers without explicit queries render at every zoom from table_name
		return &Query{MinZoom: 0, MaxZoom: 22}
	}
	return best
}

// Fingerprint digests everything that influences rendered tile content,
// so cached tiles from older configurations miss naturally.
func (l *Layer) Fingerprint() uint64 {
	d := xxhash.New()
	for _, s := range []string{
		l.Name, l.Datasource, l.TableName, l.GeometryField, l.GeometryType, l.FidField,
		strconv.Itoa(l.SRID), strconv.Itoa(l.BufferSize), strconv.FormatBool(l.Simplify),
		strconv.FormatUint(uint64(l.TileSize), 10),
	} {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	for _, q := range l.Queries {
		_, _ = d.WriteString(strconv.Itoa(q.MinZoom))
		_, _ = d.WriteString(strconv.Itoa(q.MaxZoom))
		_, _ = d.WriteString(q.SQL)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

type Tileset struct {
	Name        string
	Extent      *grid.Extent
	Attribution string
	MinZoom     int
	MaxZoom     int
	Grid        *grid.Grid
	Layers      []Layer
}

func (t *Tileset) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(t.Name)
	_, _ = d.Write([]byte{0})
	if g := t.Grid; g != nil {
		for _, s := range []string{
			strconv.Itoa(g.SRID),
			strconv.FormatUint(uint64(g.Width), 10),
			strconv.FormatUint(uint64(g.Height), 10),
			strconv.Itoa(int(g.Unit)),
			strconv.Itoa(int(g.Origin)),
			formatFloat(g.Extent.MinX), formatFloat(g.Extent.MinY),
			formatFloat(g.Extent.MaxX), formatFloat(g.Extent.MaxY),
		} {
			_, _ = d.WriteString(s)
			_, _ = d.Write([]byte{0})
		}
		for _, r := range g.Resolutions {
			_, _ = d.WriteString(formatFloat(r))
			_, _ = d.Write([]byte{0})
		}
	}
	for i := range t.Layers {
		var buf [8]byte
		putUint64(buf[:], t.Layers[i].Fingerprint())
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// FromConfig resolves config tilesets against their grids.
func FromConfig(cfg *config.Config) ([]*Tileset, error) {
	grids := map[string]*grid.Grid{
		"web_mercator": grid.WebMercator(),
		"wgs84":        grid.WGS84(),
	}
	for name, gc := range cfg.Grids {
		unit, err := grid.ParseUnit(gc.Units)
		if err != nil {
			return nil, fmt.Errorf("grid %q: %w", name, err)
		}
		origin, err := grid.ParseOrigin(gc.Origin)
		if err != nil {
			return nil, fmt.Errorf("grid %q: %w", name, err)
		}
		g, err := grid.New(gc.Width, gc.Height, grid.Extent{
			MinX: gc.Extent.MinX, MinY: gc.Extent.MinY,
			MaxX: gc.Extent.MaxX, MaxY: gc.Extent.MaxY,
		}, gc.SRID, unit, gc.Resolutions, origin)
		if err != nil {
			return nil, fmt.Errorf("grid %q: %w", name, err)
		}
		grids[name] = g
	}

	out := make([]*Tileset, 0, len(cfg.Tilesets))
	for _, tc := range cfg.Tilesets {
		g, ok := grids[tc.Grid]
		if !ok {
			return nil, fmt.Errorf("tileset %q: unknown grid %q", tc.Name, tc.Grid)
		}
		ts := &Tileset{
			Name:        tc.Name,
			Attribution: tc.Attribution,
			Grid:        g,
			MinZoom:     0,
			MaxZoom:     g.MaxZoom(),
		}
		if tc.Extent != nil {
			ts.Extent = &grid.Extent{
				MinX: tc.Extent.MinX, MinY: tc.Extent.MinY,
				MaxX: tc.Extent.MaxX, MaxY: tc.Extent.MaxY,
			}
		}
		if tc.MinZoom != nil {
			ts.MinZoom = *tc.MinZoom
		}
		if tc.MaxZoom != nil && *tc.MaxZoom < ts.MaxZoom {
			ts.MaxZoom = *tc.MaxZoom
		}
		if ts.MinZoom > ts.MaxZoom {
			return nil, fmt.Errorf("tileset %q: minzoom above maxzoom", tc.Name)
		}
		for _, lc := range tc.Layers {
			l := Layer{
				Name:          lc.Name,
				Datasource:    lc.Datasource,
				TableName:     lc.TableName,
				GeometryField: lc.GeometryField,
				GeometryType:  lc.GeometryType,
				FidField:      lc.FidField,
				SRID:          lc.SRID,
				BufferSize:    lc.BufferSize,
				Simplify:      lc.Simplify,
				TileSize:      lc.TileSize,
			}
			if l.SRID == 0 {
				l.SRID = g.SRID
			}
			for _, qc := range lc.Queries {
				l.Queries = append(l.Queries, Query{MinZoom: qc.MinZoom, MaxZoom: qc.MaxZoom, SQL: qc.SQL})
			}
			ts.Layers = append(ts.Layers, l)
		}
		out = append(out, ts)
	}
	return out, nil
}
