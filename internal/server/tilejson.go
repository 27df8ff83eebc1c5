package server

import (
	"fmt"
	"math"

	"github.com/mapfold/tileserv/internal/tileset"
)

type vectorLayer struct {
	ID      string `json:"id"`
	MinZoom int    `json:"minzoom"`
	MaxZoom int    `json:"maxzoom"`
}

// TileJSON is the 2.2.0 metadata document map clients consume, plus the
// vector_layers extension Mapbox-style clients expect.
type TileJSON struct {
	TileJSON     string        `json:"tilejson"`
	Name         string        `json:"name"`
	Scheme       string        `json:"scheme"`
	Tiles        []string      `json:"tiles"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	Bounds       []float64     `json:"bounds,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	VectorLayers []vectorLayer `json:"vector_layers"`
}

func tileJSON(ts *tileset.Tileset, base string) TileJSON {
	doc := TileJSON{
		TileJSON:     "2.2.0",
		Name:         ts.Name,
		Scheme:       "xyz",
		Tiles:        []string{fmt.Sprintf("%s/%s/{z}/{x}/{y}.pbf", base, ts.Name)},
		MinZoom:      ts.MinZoom,
		MaxZoom:      ts.MaxZoom,
		Attribution:  ts.Attribution,
		Bounds:       lonLatBounds(ts),
		VectorLayers: []vectorLayer{},
	}
	for i := range ts.Layers {
		l := &ts.Layers[i]
		lo, hi := ts.MinZoom, ts.MaxZoom
		if len(l.Queries) > 0 {
			lo, hi = l.Queries[0].MinZoom, l.Queries[0].MaxZoom
			for _, q := range l.Queries[1:] {
				lo = min(lo, q.MinZoom)
				hi = max(hi, q.MaxZoom)
			}
			lo = max(lo, ts.MinZoom)
			hi = min(hi, ts.MaxZoom)
		}
		doc.VectorLayers = append(doc.VectorLayers, vectorLayer{
			ID: l.Name, MinZoom: lo, MaxZoom: hi,
		})
	}
	return doc
}

// lonLatBounds expresses the tileset extent as WGS84 [w,s,e,n] when the
// grid SRID permits a conversion; other SRIDs get no bounds entry.
func lonLatBounds(ts *tileset.Tileset) []float64 {
	ext := ts.Grid.Extent
	if ts.Extent != nil {
		ext = *ts.Extent
	}
	switch ts.Grid.SRID {
	case 4326:
		return []float64{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY}
	case 3857:
		w, s := mercToLonLat(ext.MinX, ext.MinY)
		e, n := mercToLonLat(ext.MaxX, ext.MaxY)
		return []float64{w, s, e, n}
	default:
		return nil
	}
}

const earthRadius = 6378137.0

func mercToLonLat(x, y float64) (lon, lat float64) {
	lon = x / earthRadius * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}
