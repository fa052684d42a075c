package storage

import (
	"fmt"

	"github.com/louisbranch/worldstore/internal/world/schema"
)

// EncodeTuple serializes a value tuple to a deterministic byte string:
// one kind tag byte followed by the kind-width big-endian payload, per
// value, in tuple order. Equal tuples always encode to equal bytes, so
// the encoding doubles as a composite map key.
func EncodeTuple(values []schema.Value) []byte {
	size := 0
	for _, v := range values {
		size += 1 + v.Kind().Width()
	}
	out := make([]byte, 0, size)
	for _, v := range values {
		out = append(out, byte(v.Kind()))
		out = append(out, v.Bytes()...)
	}
	return out
}

// DecodeTuple reverses EncodeTuple.
func DecodeTuple(data []byte) ([]schema.Value, error) {
	var values []schema.Value
	for len(data) > 0 {
		kind := schema.Kind(data[0])
		if !kind.Valid() {
			return nil, fmt.Errorf("decode tuple: unknown kind tag %d", data[0])
		}
		width := kind.Width()
		if len(data) < 1+width {
			return nil, fmt.Errorf("decode tuple: truncated %s payload", kind)
		}
		value, err := schema.FromBytes(kind, data[1:1+width])
		if err != nil {
			return nil, fmt.Errorf("decode tuple: %w", err)
		}
		values = append(values, value)
		data = data[1+width:]
	}
	return values, nil
}

// EncodeKey returns the composite-key form of a key tuple, usable as a
// Go map key.
func EncodeKey(key []schema.Value) string {
	return string(EncodeTuple(key))
}
