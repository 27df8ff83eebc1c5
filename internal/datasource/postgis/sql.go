package postgis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mapfold/tileserv/internal/datasource"
	"github.com/mapfold/tileserv/internal/tileset"
)

// Query placeholders resolved at request time.
const (
	tokenBBox       = "!bbox!"
	tokenZoom       = "!zoom!"
	tokenPixelWidth = "!pixel_width!"
	tokenScaleDenom = "!scale_denominator!"
)

// buildSQL resolves the layer query for the requested zoom into
// executable SQL plus bind arguments. The bbox becomes bind parameters
// so the statement text stays stable across tiles; the remaining tokens
// are scalar per-zoom values and are inlined.
func buildSQL(layer *tileset.Layer, q *tileset.Query, tq datasource.TileQuery) (string, []any) {
	sql := q.SQL
	if sql == "" {
		sql = defaultSQL(layer)
	}

	sql = strings.ReplaceAll(sql, tokenZoom, strconv.Itoa(tq.Zoom))
	sql = strings.ReplaceAll(sql, tokenPixelWidth, formatFloat(tq.PixelWidth))
	sql = strings.ReplaceAll(sql, tokenScaleDenom, formatFloat(tq.ScaleDenominator))

	var args []any
	if strings.Contains(sql, tokenBBox) {
		env := fmt.Sprintf("ST_MakeEnvelope($1,$2,$3,$4,%d)", layer.SRID)
		sql = strings.ReplaceAll(sql, tokenBBox, env)
		args = []any{tq.Extent.MinX, tq.Extent.MinY, tq.Extent.MaxX, tq.Extent.MaxY}
	}
	return sql, args
}

// defaultSQL generates the query for layers configured with table_name
// instead of SQL. Only the geometry and the fid column are selected;
// attribute columns need an explicit query.
func defaultSQL(layer *tileset.Layer) string {
	geom := quoteIdent(layer.GeometryField)
	expr := geomExpr(layer, geom)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ST_AsBinary(%s) AS %s", expr, geom)
	if layer.FidField != "" {
		fmt.Fprintf(&b, ", %s", quoteIdent(layer.FidField))
	}
	fmt.Fprintf(&b, " FROM %s WHERE %s && %s", quoteTable(layer.TableName), geom, tokenBBox)
	return b.String()
}

// geomExpr applies on-the-fly simplification for line and polygon
// layers. Point layers pass through untouched.
func geomExpr(layer *tileset.Layer, geom string) string {
	if !layer.Simplify {
		return geom
	}
	switch layer.GeometryType {
	case "LINESTRING", "MULTILINESTRING":
		return fmt.Sprintf("ST_Simplify(%s,%s/2)", geom, tokenPixelWidth)
	case "POLYGON", "MULTIPOLYGON":
		return fmt.Sprintf("ST_SimplifyPreserveTopology(%s,%s/2)", geom, tokenPixelWidth)
	default:
		return geom
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
