// Package grid models tile grids: the mapping between zoom levels,
// tile coordinates and world extents.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// OGC standardized rendering pixel size (meters).
const pixelMeters = 0.00028

// meters per degree on the WGS84 spheroid at the equator
const metersPerDegree = 111319.49079327358

const metersPerFoot = 0.3048

var (
	ErrZoomOutOfRange = errors.New("grid: zoom out of range")
	ErrTileOutOfRange = errors.New("grid: tile coordinates out of range")
)

type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

func (e Extent) Valid() bool {
	return e.MaxX > e.MinX && e.MaxY > e.MinY
}

func (e Extent) Width() float64  { return e.MaxX - e.MinX }
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// Buffer grows the extent by d world units on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d}
}

func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

type Unit int

const (
	Meters Unit = iota
	Degrees
	Feet
)

func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "meters":
		return Meters, nil
	case "dd", "degrees":
		return Degrees, nil
	case "ft", "feet":
		return Feet, nil
	}
	return Meters, fmt.Errorf("grid: unknown unit %q", s)
}

type Origin int

const (
	BottomLeft Origin = iota
	TopLeft
)

func ParseOrigin(s string) (Origin, error) {
	switch strings.TrimSpace(s) {
	case "", "BottomLeft":
		return BottomLeft, nil
	case "TopLeft":
		return TopLeft, nil
	}
	return BottomLeft, fmt.Errorf("grid: unknown origin %q", s)
}

// Grid is immutable after construction.
type Grid struct {
	Width  uint32 // tile width in pixels
	Height uint32
	Extent Extent
	SRID   int
	Unit   Unit
	// Resolutions per zoom level, coarsest first, strictly decreasing.
	Resolutions []float64
	Origin      Origin
}

func New(width, height uint32, extent Extent, srid int, unit Unit, resolutions []float64, origin Origin) (*Grid, error) {
	if width == 0 || height == 0 {
		return nil, errors.New("grid: tile width and height must be positive")
	}
	if !extent.Valid() {
		return nil, fmt.Errorf("grid: degenerate extent %+v", extent)
	}
	if len(resolutions) == 0 {
		return nil, errors.New("grid: at least one resolution is required")
	}
	for i, r := range resolutions {
		if r <= 0 {
			return nil, fmt.Errorf("grid: resolution %d is not positive", i)
		}
		if i > 0 && r >= resolutions[i-1] {
			return nil, fmt.Errorf("grid: resolutions must strictly decrease (index %d)", i)
		}
	}
	rs := make([]float64, len(resolutions))
	copy(rs, resolutions)
	return &Grid{
		Width:       width,
		Height:      height,
		Extent:      extent,
		SRID:        srid,
		Unit:        unit,
		Resolutions: rs,
		Origin:      origin,
	}, nil
}

// WebMercator returns the standard EPSG:3857 grid with 256px tiles
// and 23 zoom levels.
func WebMercator() *Grid {
	const half = 20037508.342789248
	ext := Extent{MinX: -half, MinY: -half, MaxX: half, MaxY: half}
	res := make([]float64, 23)
	r := ext.Width() / 256
	for i := range res {
		res[i] = r
		r /= 2
	}
	g, _ := New(256, 256, ext, 3857, Meters, res, BottomLeft)
	return g
}

// WGS84 returns a global EPSG:4326 grid with 256px tiles.
func WGS84() *Grid {
	ext := Extent{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}
	res := make([]float64, 20)
	r := ext.Width() / 256
	for i := range res {
		res[i] = r
		r /= 2
	}
	g, _ := New(256, 256, ext, 4326, Degrees, res, BottomLeft)
	return g
}

func (g *Grid) MaxZoom() int { return len(g.Resolutions) - 1 }

func (g *Grid) Resolution(zoom int) (float64, error) {
	if zoom < 0 || zoom >= len(g.Resolutions) {
		return 0, fmt.Errorf("%w: z=%d max=%d", ErrZoomOutOfRange, zoom, g.MaxZoom())
	}
	return g.Resolutions[zoom], nil
}

// ZoomForResolution returns the finest zoom whose resolution is at least
// res, so rendering at that zoom never undersamples the requested detail.
func (g *Grid) ZoomForResolution(res float64) int {
	zoom := 0
	for z := range g.Resolutions {
		if g.Resolutions[z] < res {
			break
		}
		zoom = z
	}
	return zoom
}

// Limits returns the number of tile columns and rows at a zoom level.
func (g *Grid) Limits(zoom int) (cols, rows uint32, err error) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return 0, 0, err
	}
	tw := float64(g.Width) * res
	th := float64(g.Height) * res
	cols = uint32(math.Ceil(g.Extent.Width() / tw))
	rows = uint32(math.Ceil(g.Extent.Height() / th))
	return cols, rows, nil
}

func (g *Grid) Contains(zoom int, x, y uint32) bool {
	cols, rows, err := g.Limits(zoom)
	if err != nil {
		return false
	}
	return x < cols && y < rows
}

// TileExtent returns the world extent of a tile addressed in the grid's
// native scheme (y counted from the origin corner).
func (g *Grid) TileExtent(zoom int, x, y uint32) (Extent, error) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return Extent{}, err
	}
	if !g.Contains(zoom, x, y) {
		return Extent{}, fmt.Errorf("%w: z=%d x=%d y=%d", ErrTileOutOfRange, zoom, x, y)
	}
	tw := float64(g.Width) * res
	th := float64(g.Height) * res
	minx := g.Extent.MinX + float64(x)*tw
	var miny float64
	if g.Origin == TopLeft {
		miny = g.Extent.MaxY - float64(y+1)*th
	} else {
		miny = g.Extent.MinY + float64(y)*th
	}
	return Extent{MinX: minx, MinY: miny, MaxX: minx + tw, MaxY: miny + th}, nil
}

// TileExtentXYZ addresses tiles in XYZ order (y counted from the top),
// flipping y for bottom-left origin grids.
func (g *Grid) TileExtentXYZ(zoom int, x, y uint32) (Extent, error) {
	if g.Origin == TopLeft {
		return g.TileExtent(zoom, x, y)
	}
	_, rows, err := g.Limits(zoom)
	if err != nil {
		return Extent{}, err
	}
	if y >= rows {
		return Extent{}, fmt.Errorf("%w: z=%d x=%d y=%d", ErrTileOutOfRange, zoom, x, y)
	}
	return g.TileExtent(zoom, x, rows-1-y)
}

// TileRange returns the inclusive XYZ tile range covering ext at a zoom level,
// clamped to the grid limits. ok is false when ext is outside the grid.
func (g *Grid) TileRange(zoom int, ext Extent) (minX, minY, maxX, maxY uint32, ok bool) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return 0, 0, 0, 0, false
	}
	if !ext.Intersects(g.Extent) {
		return 0, 0, 0, 0, false
	}
	cols, rows, _ := g.Limits(zoom)
	tw := float64(g.Width) * res
	th := float64(g.Height) * res

	// compare in float space before converting: uint32(v) is
	// implementation-defined once v exceeds the uint32 range
	clampCol := func(v float64) uint32 {
		if v < 0 {
			return 0
		}
		if v >= float64(cols) {
			return cols - 1
		}
		return uint32(v)
	}
	clampRow := func(v float64) uint32 {
		if v < 0 {
			return 0
		}
		if v >= float64(rows) {
			return rows - 1
		}
		return uint32(v)
	}

	minX = clampCol(math.Floor((ext.MinX - g.Extent.MinX) / tw))
	maxX = clampCol(math.Floor((ext.MaxX - g.Extent.MinX) / tw))
	// XYZ rows count from the top of the grid extent
	minY = clampRow(math.Floor((g.Extent.MaxY - ext.MaxY) / th))
	maxY = clampRow(math.Floor((g.Extent.MaxY - ext.MinY) / th))
	return minX, minY, maxX, maxY, true
}

// PixelWidth returns the ground size of one pixel in meters at a zoom level.
func (g *Grid) PixelWidth(zoom int) (float64, error) {
	res, err := g.Resolution(zoom)
	if err != nil {
		return 0, err
	}
	switch g.Unit {
	case Degrees:
		return res * metersPerDegree, nil
	case Feet:
		return res * metersPerFoot, nil
	default:
		return res, nil
	}
}

// ScaleDenominator follows the OGC 0.28mm rendering pixel convention.
func (g *Grid) ScaleDenominator(zoom int) (float64, error) {
	pw, err := g.PixelWidth(zoom)
	if err != nil {
		return 0, err
	}
	return pw / pixelMeters, nil
}
