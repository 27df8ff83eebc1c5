// Package mvt builds Mapbox Vector Tiles: world geometries are projected
// into integer tile coordinates and written out as the vector_tile
// protobuf, gzip-compressed for serving.
package mvt

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mapfold/tileserv/internal/grid"
)

const DefaultExtent uint32 = 4096

// MVT layer version written to every layer.
const layerVersion = 2

type GeomType uint8

const (
	GeomUnknown    GeomType = 0
	GeomPoint      GeomType = 1
	GeomLineString GeomType = 2
	GeomPolygon    GeomType = 3
)

var ErrUnsupportedGeometry = errors.New("mvt: unsupported geometry type")

type Attr struct {
	Key   string
	Value any
}

type Feature struct {
	ID       uint64
	HasID    bool
	Geometry orb.Geometry
	Attrs    []Attr
}

// Layer accumulates encoded features and the shared key/value dictionaries.
type Layer struct {
	name     string
	extent   uint32
	features []encodedFeature
	keys     []string
	keyIdx   map[string]int
	values   []any
	valIdx   map[any]int
}

type encodedFeature struct {
	id       uint64
	hasID    bool
	geomType GeomType
	geometry []uint32
	tags     []uint32
}

func (l *Layer) Name() string      { return l.name }
func (l *Layer) FeatureCount() int { return len(l.features) }

// tagValue interns key and value and appends the index pair to the feature tags,
// mirroring the keys/values dictionaries of the MVT layer.
func (l *Layer) tagValue(f *encodedFeature, key string, val any) {
	ki, ok := l.keyIdx[key]
	if !ok {
		ki = len(l.keys)
		l.keys = append(l.keys, key)
		l.keyIdx[key] = ki
	}
	vi, ok := l.valIdx[val]
	if !ok {
		vi = len(l.values)
		l.values = append(l.values, val)
		l.valIdx[val] = vi
	}
	f.tags = append(f.tags, uint32(ki), uint32(vi))
}

type Tile struct {
	bounds   grid.Extent
	reverseY bool
	layers   []*Layer
}

// NewTile starts a tile covering bounds. reverseY must be set when the
// source grid counts y from the bottom, since tile coordinates grow downward.
func NewTile(bounds grid.Extent, reverseY bool) *Tile {
	return &Tile{bounds: bounds, reverseY: reverseY}
}

func (t *Tile) NewLayer(name string, extent uint32) *Layer {
	if extent == 0 {
		extent = DefaultExtent
	}
	l := &Layer{
		name:   name,
		extent: extent,
		keyIdx: map[string]int{},
		valIdx: map[any]int{},
	}
	t.layers = append(t.layers, l)
	return l
}

// AddFeature projects the feature geometry into l's tile extent and appends it.
// Features whose geometry collapses to nothing at this resolution are dropped.
func (t *Tile) AddFeature(l *Layer, f Feature) error {
	geomType, seq, err := encodeGeom(t.bounds, t.reverseY, l.extent, f.Geometry)
	if err != nil {
		return err
	}
	if len(seq) == 0 {
		return nil
	}
	ef := encodedFeature{
		id:       f.ID,
		hasID:    f.HasID,
		geomType: geomType,
		geometry: seq,
	}
	for _, a := range f.Attrs {
		v, ok := canonicalValue(a.Value)
		if !ok {
			continue
		}
		l.tagValue(&ef, a.Key, v)
	}
	l.features = append(l.features, ef)
	return nil
}

func (t *Tile) IsEmpty() bool {
	for _, l := range t.layers {
		if len(l.features) > 0 {
			return false
		}
	}
	return true
}

// canonicalValue narrows attribute values to the types the MVT value
// message can carry.
func canonicalValue(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return x, true
	case float32:
		return x, true
	case float64:
		return x, true
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	default:
		return nil, false
	}
}

func geomTypeOf(g orb.Geometry) (GeomType, error) {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return GeomPoint, nil
	case orb.LineString, orb.MultiLineString:
		return GeomLineString, nil
	case orb.Polygon, orb.MultiPolygon:
		return GeomPolygon, nil
	default:
		return GeomUnknown, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
}
