package postgis

import (
	"encoding/hex"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mapfold/tileserv/internal/tileset"
)

func TestDecodeGeometry_WKB(t *testing.T) {
	raw, err := wkb.Marshal(orb.Point{11.5, 47.2})
	if err != nil {
		t.Fatal(err)
	}
	g, err := decodeGeometry(raw)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := g.(orb.Point)
	if !ok {
		t.Fatalf("got %T", g)
	}
	if p[0] != 11.5 || p[1] != 47.2 {
		t.Fatalf("got %v", p)
	}
}

func TestDecodeGeometry_EWKBWithSRID(t *testing.T) {
	raw := ewkb.MustMarshal(orb.Point{1, 2}, 3857)
	g, err := decodeGeometry(raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(orb.Point); !ok {
		t.Fatalf("got %T", g)
	}
}

func TestDecodeGeometry_HexString(t *testing.T) {
	raw := ewkb.MustMarshal(orb.Point{1, 2}, 4326)
	g, err := decodeGeometry(hex.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(orb.Point); !ok {
		t.Fatalf("got %T", g)
	}
}

func TestDecodeGeometry_Unsupported(t *testing.T) {
	if _, err := decodeGeometry(42); err == nil {
		t.Fatal("expected error for non-binary value")
	}
	if _, err := decodeGeometry([]byte("not wkb at all")); err == nil {
		t.Fatal("expected error for garbage bytes")
	}
}

func TestAttrValue_Narrowing(t *testing.T) {
	cases := []struct {
		in   any
		want any
		ok   bool
	}{
		{"name", "name", true},
		{true, true, true},
		{int16(3), int64(3), true},
		{int32(4), int64(4), true},
		{int64(5), int64(5), true},
		{float32(1.5), float32(1.5), true},
		{2.5, 2.5, true},
		{[]byte("blob"), nil, false},
		{map[string]any{}, nil, false},
	}
	for _, c := range cases {
		got, ok := attrValue(c.in)
		if ok != c.ok {
			t.Errorf("attrValue(%T) ok = %v, want %v", c.in, ok, c.ok)
			continue
		}
		if ok && got != c.want {
			t.Errorf("attrValue(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAsFid(t *testing.T) {
	if id, ok := asFid(int64(42)); !ok || id != 42 {
		t.Fatalf("got %d, %v", id, ok)
	}
	if _, ok := asFid(int64(-1)); ok {
		t.Fatal("negative ids must be rejected")
	}
	if id, ok := asFid(7.0); !ok || id != 7 {
		t.Fatalf("integral float: got %d, %v", id, ok)
	}
	if _, ok := asFid(7.5); ok {
		t.Fatal("fractional float must be rejected")
	}
	if _, ok := asFid("7"); ok {
		t.Fatal("strings must be rejected")
	}
}

func TestRowFeature_SplitsColumns(t *testing.T) {
	c := &Client{name: "test", log: slog.Default()}
	layer := &tileset.Layer{
		Name:          "poi",
		GeometryField: "geom",
		FidField:      "id",
	}
	raw, err := wkb.Marshal(orb.Point{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	cols := []string{"geom", "id", "name", "height", "notes"}
	vals := []any{raw, int64(99), "tower", 55.5, nil}

	f, ok := c.rowFeature(layer, cols, vals)
	if !ok {
		t.Fatal("expected a feature")
	}
	if !f.HasID || f.ID != 99 {
		t.Fatalf("fid = %d (has=%v)", f.ID, f.HasID)
	}
	if len(f.Attrs) != 2 {
		t.Fatalf("attrs = %+v, want name and height only", f.Attrs)
	}
	want := map[string]any{"name": "tower", "height": 55.5}
	for _, a := range f.Attrs {
		if want[a.Key] != a.Value {
			t.Errorf("attr %s = %v, want %v", a.Key, a.Value, want[a.Key])
		}
	}
}

func TestRowFeature_NullGeometryDropsRow(t *testing.T) {
	c := &Client{name: "test", log: slog.Default()}
	layer := &tileset.Layer{Name: "poi", GeometryField: "geom"}

	if _, ok := c.rowFeature(layer, []string{"geom"}, []any{nil}); ok {
		t.Fatal("NULL geometry must drop the row")
	}
}

func TestRowFeature_BadGeometryDropsRow(t *testing.T) {
	c := &Client{name: "test", log: slog.Default()}
	layer := &tileset.Layer{Name: "poi", GeometryField: "geom"}

	if _, ok := c.rowFeature(layer, []string{"geom"}, []any{[]byte("junk")}); ok {
		t.Fatal("undecodable geometry must drop the row")
	}
}
