package mvt

import (
	"github.com/paulmach/orb"

	"github.com/mapfold/tileserv/internal/grid"
)

// screenPt is a point in integer tile coordinates, y growing downward.
type screenPt struct {
	x, y int32
}

func toScreen(bounds grid.Extent, reverseY bool, extent uint32, p orb.Point) screenPt {
	xSpan := bounds.Width()
	ySpan := bounds.Height()
	sp := screenPt{
		x: int32((p[0] - bounds.MinX) * float64(extent) / xSpan),
		y: int32((p[1] - bounds.MinY) * float64(extent) / ySpan),
	}
	if reverseY {
		sp.y = int32(extent) - sp.y
	}
	return sp
}

// toScreenLine projects a ring or line, dropping consecutive duplicates
// that collapse at this resolution.
func toScreenLine(bounds grid.Extent, reverseY bool, extent uint32, ln orb.LineString) []screenPt {
	out := make([]screenPt, 0, len(ln))
	for _, p := range ln {
		sp := toScreen(bounds, reverseY, extent, p)
		if n := len(out); n > 0 && out[n-1] == sp {
			continue
		}
		out = append(out, sp)
	}
	return out
}

const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

func command(id, count uint32) uint32 {
	return (id & 0x7) | (count << 3)
}

func zigzag(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

// geomEncoder writes the MVT command sequence, tracking the cursor so
// coordinates are emitted as deltas.
type geomEncoder struct {
	seq    []uint32
	cx, cy int32
}

func (e *geomEncoder) emit(p screenPt) {
	e.seq = append(e.seq, zigzag(p.x-e.cx), zigzag(p.y-e.cy))
	e.cx, e.cy = p.x, p.y
}

func (e *geomEncoder) moveTo(pts ...screenPt) {
	e.seq = append(e.seq, command(cmdMoveTo, uint32(len(pts))))
	for _, p := range pts {
		e.emit(p)
	}
}

func (e *geomEncoder) lineTo(pts ...screenPt) {
	e.seq = append(e.seq, command(cmdLineTo, uint32(len(pts))))
	for _, p := range pts {
		e.emit(p)
	}
}

func (e *geomEncoder) closePath() {
	e.seq = append(e.seq, command(cmdClosePath, 1))
}

func (e *geomEncoder) line(pts []screenPt) {
	e.moveTo(pts[0])
	e.lineTo(pts[1:]...)
}

func (e *geomEncoder) ring(pts []screenPt) {
	// source rings close explicitly; the tile encoding closes via command
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	if len(pts) < 3 {
		return
	}
	e.moveTo(pts[0])
	e.lineTo(pts[1:]...)
	e.closePath()
}

// encodeGeom converts a world geometry into the layer's command sequence.
// An empty sequence means the geometry has no representation at this zoom.
func encodeGeom(bounds grid.Extent, reverseY bool, extent uint32, g orb.Geometry) (GeomType, []uint32, error) {
	gt, err := geomTypeOf(g)
	if err != nil {
		return GeomUnknown, nil, err
	}
	enc := &geomEncoder{}
	switch geom := g.(type) {
	case orb.Point:
		enc.moveTo(toScreen(bounds, reverseY, extent, geom))
	case orb.MultiPoint:
		pts := make([]screenPt, 0, len(geom))
		for _, p := range geom {
			pts = append(pts, toScreen(bounds, reverseY, extent, p))
		}
		if len(pts) > 0 {
			enc.moveTo(pts...)
		}
	case orb.LineString:
		if pts := toScreenLine(bounds, reverseY, extent, geom); len(pts) >= 2 {
			enc.line(pts)
		}
	case orb.MultiLineString:
		for _, ln := range geom {
			if pts := toScreenLine(bounds, reverseY, extent, ln); len(pts) >= 2 {
				enc.line(pts)
			}
		}
	case orb.Polygon:
		for _, r := range geom {
			enc.ring(toScreenLine(bounds, reverseY, extent, orb.LineString(r)))
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, r := range poly {
				enc.ring(toScreenLine(bounds, reverseY, extent, orb.LineString(r)))
			}
		}
	}
	return gt, enc.seq, nil
}
