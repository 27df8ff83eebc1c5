package mvt

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// vector_tile.proto field numbers
const (
	tileLayersField = 3

	layerNameField     = 1
	layerFeaturesField = 2
	layerKeysField     = 3
	layerValuesField   = 4
	layerExtentField   = 5
	layerVersionField  = 15

	featureIDField   = 1
	featureTagsField = 2
	featureTypeField = 3
	featureGeomField = 4

	valueStringField = 1
	valueFloatField  = 2
	valueDoubleField = 3
	valueIntField    = 4
	valueUintField   = 5
	valueBoolField   = 7
)

// Marshal encodes the tile in the vector_tile wire format.
func (t *Tile) Marshal() ([]byte, error) {
	var b []byte
	for _, l := range t.layers {
		lb, err := l.marshal()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, tileLayersField, protowire.BytesType)
		b = protowire.AppendBytes(b, lb)
	}
	return b, nil
}

func (l *Layer) marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, layerVersionField, protowire.VarintType)
	b = protowire.AppendVarint(b, layerVersion)
	b = protowire.AppendTag(b, layerNameField, protowire.BytesType)
	b = protowire.AppendString(b, l.name)
	for _, f := range l.features {
		b = protowire.AppendTag(b, layerFeaturesField, protowire.BytesType)
		b = protowire.AppendBytes(b, f.marshal())
	}
	for _, k := range l.keys {
		b = protowire.AppendTag(b, layerKeysField, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, v := range l.values {
		vb, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.name, err)
		}
		b = protowire.AppendTag(b, layerValuesField, protowire.BytesType)
		b = protowire.AppendBytes(b, vb)
	}
	b = protowire.AppendTag(b, layerExtentField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.extent))
	return b, nil
}

func (f *encodedFeature) marshal() []byte {
	var b []byte
	if f.hasID {
		b = protowire.AppendTag(b, featureIDField, protowire.VarintType)
		b = protowire.AppendVarint(b, f.id)
	}
	if len(f.tags) > 0 {
		b = protowire.AppendTag(b, featureTagsField, protowire.BytesType)
		b = protowire.AppendBytes(b, packedVarints(f.tags))
	}
	b = protowire.AppendTag(b, featureTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.geomType))
	b = protowire.AppendTag(b, featureGeomField, protowire.BytesType)
	b = protowire.AppendBytes(b, packedVarints(f.geometry))
	return b
}

func packedVarints(vals []uint32) []byte {
	var b []byte
	for _, v := range vals {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func marshalValue(v any) ([]byte, error) {
	var b []byte
	switch x := v.(type) {
	case string:
		b = protowire.AppendTag(b, valueStringField, protowire.BytesType)
		b = protowire.AppendString(b, x)
	case float32:
		b = protowire.AppendTag(b, valueFloatField, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(x))
	case float64:
		b = protowire.AppendTag(b, valueDoubleField, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(x))
	case int64:
		b = protowire.AppendTag(b, valueIntField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(x))
	case uint64:
		b = protowire.AppendTag(b, valueUintField, protowire.VarintType)
		b = protowire.AppendVarint(b, x)
	case bool:
		var n uint64
		if x {
			n = 1
		}
		b = protowire.AppendTag(b, valueBoolField, protowire.VarintType)
		b = protowire.AppendVarint(b, n)
	default:
		return nil, fmt.Errorf("mvt: value type %T not encodable", v)
	}
	return b, nil
}
