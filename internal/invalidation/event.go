// Package invalidation consumes data-change events and evicts the tiles
// they touch.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

// Event describes a data change. The bbox is expressed in the units of
// the affected tileset's grid; a missing bbox invalidates the whole
// layer. Versions are monotonically increasing per publisher and guard
// against replays.
type Event struct {
	Version uint64    `json:"version"`
	Op      string    `json:"op"`
	Tileset string    `json:"tileset,omitempty"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	BBox    *BBox     `json:"bbox,omitempty"`
	MinZoom *int      `json:"minzoom,omitempty"`
	MaxZoom *int      `json:"maxzoom,omitempty"`
}

type BBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

func (e Event) Validate() error {
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" && strings.TrimSpace(e.Tileset) == "" {
		return fmt.Errorf("layer or tileset is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox != nil {
		if !(e.BBox.MaxX > e.BBox.MinX && e.BBox.MaxY > e.BBox.MinY) {
			return fmt.Errorf("bbox must satisfy maxx>minx and maxy>miny")
		}
	}
	if e.MinZoom != nil && *e.MinZoom < 0 {
		return fmt.Errorf("minzoom must be >= 0")
	}
	if e.MinZoom != nil && e.MaxZoom != nil && *e.MaxZoom < *e.MinZoom {
		return fmt.Errorf("maxzoom must be >= minzoom")
	}
	return nil
}
