package postgis

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
)

var errNullGeometry = errors.New("NULL geometry")

// decodeGeometry decodes a geometry column value. PostGIS returns WKB
// from ST_AsBinary and hex-encoded EWKB for raw geometry columns; the
// orb scanner accepts both.
func decodeGeometry(v any) (orb.Geometry, error) {
	var data []byte
	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return nil, fmt.Errorf("unsupported geometry column type %T", v)
	}

	s := ewkb.Scanner(nil)
	if err := s.Scan(data); err != nil {
		return nil, fmt.Errorf("decode wkb: %w", err)
	}
	if !s.Valid {
		return nil, errNullGeometry
	}
	return s.Geometry, nil
}
