package storage

import (
	"testing"

	"github.com/louisbranch/worldstore/internal/world/schema"
)

func TestEncodeDecodeTuple(t *testing.T) {
	var addr schema.Address
	addr[31] = 0x99
	original := []schema.Value{
		schema.U32(7),
		schema.AddressValue(addr),
		schema.U128(2, 1),
	}

	decoded, err := DecodeTuple(EncodeTuple(original))
	if err != nil {
		t.Fatalf("decode tuple: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("expected %d values, got %d", len(original), len(decoded))
	}
	for i := range original {
		if !decoded[i].Equal(original[i]) {
			t.Fatalf("value %d changed in transit: %s != %s", i, decoded[i], original[i])
		}
	}
}

func TestEncodeKeyIsDeterministic(t *testing.T) {
	a := EncodeKey([]schema.Value{schema.U32(7), schema.U8(1)})
	b := EncodeKey([]schema.Value{schema.U32(7), schema.U8(1)})
	if a != b {
		t.Fatalf("equal tuples must encode to equal keys")
	}

	c := EncodeKey([]schema.Value{schema.U8(1), schema.U32(7)})
	if a == c {
		t.Fatalf("key order must change the encoded key")
	}
}

func TestEncodeKeyDistinguishesKindWidths(t *testing.T) {
	// Same numeric payload under different declared widths must not collide.
	a := EncodeKey([]schema.Value{schema.U8(1)})
	b := EncodeKey([]schema.Value{schema.U16(1)})
	if a == b {
		t.Fatalf("u8 and u16 keys with equal payloads must differ")
	}
}

func TestDecodeTupleRejectsGarbage(t *testing.T) {
	if _, err := DecodeTuple([]byte{0xff, 0x01}); err == nil {
		t.Fatalf("expected error for unknown kind tag")
	}

	// A u64 tag followed by too few payload bytes.
	truncated := []byte{byte(schema.KindU64), 0x01, 0x02}
	if _, err := DecodeTuple(truncated); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestDecodeEmptyTuple(t *testing.T) {
	values, err := DecodeTuple(nil)
	if err != nil {
		t.Fatalf("decode empty tuple: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no values, got %d", len(values))
	}
}
