package mvt

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// MarshalGzipped encodes the tile and compresses it for serving.
func (t *Tile) MarshalGzipped() ([]byte, error) {
	raw, err := t.Marshal()
	if err != nil {
		return nil, err
	}
	return Gzip(raw)
}

func Gzip(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func Gunzip(b []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}
