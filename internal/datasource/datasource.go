// Package datasource defines the feature source contract the tile
// service renders from.
package datasource

import (
	"context"

	"github.com/mapfold/tileserv/internal/grid"
	"github.com/mapfold/tileserv/internal/mvt"
	"github.com/mapfold/tileserv/internal/tileset"
)

// TileQuery carries the spatial parameters of one layer query.
type TileQuery struct {
	// Extent is the tile bounding box in grid units, already widened by
	// the layer buffer.
	Extent grid.Extent

	Zoom             int
	PixelWidth       float64
	ScaleDenominator float64
}

type Source interface {
	Name() string

	// SelectFeatures runs the layer query selected for q.Zoom and
	// returns decoded features. An empty slice is a valid result.
	SelectFeatures(ctx context.Context, layer *tileset.Layer, q TileQuery) ([]mvt.Feature, error)

	Close() error
}
