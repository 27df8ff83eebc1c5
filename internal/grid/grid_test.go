package grid

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestWebMercator_Resolutions(t *testing.T) {
	g := WebMercator()
	if got := len(g.Resolutions); got != 23 {
		t.Fatalf("levels = %d, want 23", got)
	}
	if !almostEqual(g.Resolutions[0], 156543.0339280410, 1e-6) {
		t.Fatalf("res[0] = %v", g.Resolutions[0])
	}
	for i := 1; i < len(g.Resolutions); i++ {
		if !almostEqual(g.Resolutions[i-1]/g.Resolutions[i], 2, 1e-9) {
			t.Fatalf("resolutions not halving at %d", i)
		}
	}
}

func TestNew_RejectsNonDecreasingResolutions(t *testing.T) {
	ext := Extent{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	_, err := New(256, 256, ext, 2056, Meters, []float64{10, 10, 5}, TopLeft)
	if err == nil {
		t.Fatal("expected error for non-decreasing resolutions")
	}
	_, err = New(256, 256, ext, 2056, Meters, []float64{10, 5, -1}, TopLeft)
	if err == nil {
		t.Fatal("expected error for negative resolution")
	}
}

func TestNew_RejectsDegenerateExtent(t *testing.T) {
	_, err := New(256, 256, Extent{MinX: 5, MinY: 0, MaxX: 5, MaxY: 10}, 0, Meters, []float64{1}, BottomLeft)
	if err == nil {
		t.Fatal("expected error for degenerate extent")
	}
}

func TestZoomForResolution(t *testing.T) {
	g := WebMercator()
	cases := []struct {
		res  float64
		want int
	}{
		{1e9, 0},
		{g.Resolutions[0], 0},
		{g.Resolutions[5], 5},
		{g.Resolutions[5] + 0.001, 4},
		{1e-9, g.MaxZoom()},
	}
	for _, tc := range cases {
		if got := g.ZoomForResolution(tc.res); got != tc.want {
			t.Fatalf("ZoomForResolution(%v) = %d, want %d", tc.res, got, tc.want)
		}
	}
}

func TestLimits(t *testing.T) {
	g := WebMercator()
	cols, rows, err := g.Limits(3)
	if err != nil {
		t.Fatal(err)
	}
	if cols != 8 || rows != 8 {
		t.Fatalf("limits z3 = %dx%d, want 8x8", cols, rows)
	}
}

func TestTileExtent_FullAtZeroZoom(t *testing.T) {
	g := WebMercator()
	ext, err := g.TileExtent(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(ext.MinX, g.Extent.MinX, 1e-6) || !almostEqual(ext.MaxY, g.Extent.MaxY, 1e-6) {
		t.Fatalf("z0 tile extent %+v != grid extent %+v", ext, g.Extent)
	}
}

func TestTileExtentXYZ_FlipsYForBottomLeftGrids(t *testing.T) {
	g := WebMercator()

	// XYZ (0,0) at z1 is the north-west quadrant
	ext, err := g.TileExtentXYZ(1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(ext.MinY, 0, 1e-6) || !almostEqual(ext.MaxY, g.Extent.MaxY, 1e-6) {
		t.Fatalf("xyz z1 (0,0) = %+v, want northern half", ext)
	}

	// native TMS (0,0) at z1 is the south-west quadrant
	ext, err = g.TileExtent(1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(ext.MaxY, 0, 1e-6) {
		t.Fatalf("tms z1 (0,0) = %+v, want southern half", ext)
	}
}

func TestTileExtent_TopLeftOrigin(t *testing.T) {
	ext := Extent{MinX: 0, MinY: 0, MaxX: 1024, MaxY: 1024}
	g, err := New(256, 256, ext, 2056, Meters, []float64{4, 2, 1}, TopLeft)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.TileExtent(1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// top-left tile at z1: 512 world units, anchored to the top
	want := Extent{MinX: 0, MinY: 512, MaxX: 512, MaxY: 1024}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTileExtent_OutOfRange(t *testing.T) {
	g := WebMercator()
	if _, err := g.TileExtent(1, 2, 0); !errors.Is(err, ErrTileOutOfRange) {
		t.Fatalf("err = %v, want ErrTileOutOfRange", err)
	}
	if _, err := g.TileExtent(99, 0, 0); !errors.Is(err, ErrZoomOutOfRange) {
		t.Fatalf("err = %v, want ErrZoomOutOfRange", err)
	}
}

func TestTileRange(t *testing.T) {
	g := WebMercator()

	// north-east quarter of the world at z1 is exactly XYZ tile (1,0)
	minX, minY, maxX, maxY, ok := g.TileRange(1, Extent{MinX: 1, MinY: 1, MaxX: 20037508, MaxY: 20037508})
	if !ok {
		t.Fatal("expected overlap")
	}
	if minX != 1 || maxX != 1 || minY != 0 || maxY != 0 {
		t.Fatalf("range = x[%d..%d] y[%d..%d]", minX, maxX, minY, maxY)
	}

	if _, _, _, _, ok := g.TileRange(1, Extent{MinX: 3e7, MinY: 0, MaxX: 4e7, MaxY: 1}); ok {
		t.Fatal("extent outside the grid must not produce a range")
	}
}

func TestTileRange_HugeExtentClampsToGrid(t *testing.T) {
	g := WebMercator()

	// an extent reaching absurdly far past the grid maps to many more
	// than 1<<32 tile columns at z20; the clamp must still land on the
	// grid edge instead of wrapping through the integer conversion
	minX, minY, maxX, maxY, ok := g.TileRange(20, Extent{MinX: 0, MinY: 0, MaxX: 1e18, MaxY: 1e18})
	if !ok {
		t.Fatal("expected overlap")
	}
	cols, rows, err := g.Limits(20)
	if err != nil {
		t.Fatal(err)
	}
	if maxX != cols-1 {
		t.Fatalf("maxX = %d, want %d", maxX, cols-1)
	}
	if minY != 0 {
		t.Fatalf("minY = %d, want 0", minY)
	}
	if maxY != rows/2-1 && maxY != rows/2 {
		t.Fatalf("maxY = %d, want about %d", maxY, rows/2)
	}
	if minX != cols/2 {
		t.Fatalf("minX = %d, want %d", minX, cols/2)
	}
}

func TestScaleDenominator(t *testing.T) {
	g := WebMercator()
	sd, err := g.ScaleDenominator(0)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(sd, 559082264.028718, 1) {
		t.Fatalf("scale denominator z0 = %v", sd)
	}
}

func TestPixelWidth_Degrees(t *testing.T) {
	g := WGS84()
	pw, err := g.PixelWidth(0)
	if err != nil {
		t.Fatal(err)
	}
	want := (360.0 / 256.0) * 111319.49079327358
	if !almostEqual(pw, want, 1e-6) {
		t.Fatalf("pixel width = %v, want %v", pw, want)
	}
}
