// Package postgis implements the PostGIS feature source.
package postgis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mapfold/tileserv/internal/datasource"
	"github.com/mapfold/tileserv/internal/mvt"
	"github.com/mapfold/tileserv/internal/observability"
	"github.com/mapfold/tileserv/internal/tileset"
)

type Client struct {
	name string
	db   *sql.DB
	log  *slog.Logger
}

var _ datasource.Source = (*Client)(nil)

func New(ctx context.Context, name, dsn string, maxConns int, logger *slog.Logger) (*Client, error) {
	if dsn == "" {
		return nil, errors.New("datasource connection string is required")
	}
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open datasource %q: %w", name, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping datasource %q: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{name: name, db: db, log: logger}, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close datasource %q: %w", c.name, err)
	}
	return nil
}

func (c *Client) SelectFeatures(ctx context.Context, layer *tileset.Layer, tq datasource.TileQuery) ([]mvt.Feature, error) {
	q := layer.QueryForZoom(tq.Zoom)
	if q == nil {
		return nil, nil
	}
	sqlText, args := buildSQL(layer, q, tq)

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, sqlText, args...)
	observability.ObserveDBQuery(c.name, layer.Name, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("layer %q query: %w", layer.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("layer %q columns: %w", layer.Name, err)
	}

	var feats []mvt.Feature
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("layer %q scan: %w", layer.Name, err)
		}
		f, ok := c.rowFeature(layer, cols, vals)
		if ok {
			feats = append(feats, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("layer %q rows: %w", layer.Name, err)
	}
	return feats, nil
}

// rowFeature converts one result row: the geometry column is decoded
// from WKB, the fid column becomes the feature id when integral, every
// other non-NULL column becomes a typed attribute. Rows with NULL or
// undecodable geometry are dropped.
func (c *Client) rowFeature(layer *tileset.Layer, cols []string, vals []any) (mvt.Feature, bool) {
	var f mvt.Feature
	for i, col := range cols {
		v := vals[i]
		if v == nil {
			continue
		}
		switch col {
		case layer.GeometryField:
			g, err := decodeGeometry(v)
			if err != nil {
				c.log.Error("geometry decode failed",
					"layer", layer.Name, "column", col, "err", err)
				return mvt.Feature{}, false
			}
			f.Geometry = g
		case layer.FidField:
			if id, ok := asFid(v); ok {
				f.ID = id
				f.HasID = true
			}
		default:
			av, ok := attrValue(v)
			if !ok {
				c.log.Warn("skipping unsupported column type",
					"layer", layer.Name, "column", col, "type", fmt.Sprintf("%T", v))
				continue
			}
			f.Attrs = append(f.Attrs, mvt.Attr{Key: col, Value: av})
		}
	}
	if f.Geometry == nil {
		return mvt.Feature{}, false
	}
	return f, true
}

// attrValue narrows driver values to the attribute types tiles carry.
func attrValue(v any) (any, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return x, true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float32:
		return x, true
	case float64:
		return x, true
	default:
		return nil, false
	}
}

func asFid(v any) (uint64, bool) {
	var n int64
	switch x := v.(type) {
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	return uint64(n), true
}
