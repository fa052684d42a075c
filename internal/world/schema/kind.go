// Package schema declares component shapes: field kinds, typed values, and
// the registry of component descriptors known to a world store.
package schema

import (
	"fmt"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
)

// Kind identifies a supported field type.
type Kind uint8

const (
	// KindInvalid is the zero Kind and never passes validation.
	KindInvalid Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindAddress
)

var kindNames = map[Kind]string{
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindU128:    "u128",
	KindU256:    "u256",
	KindAddress: "address",
}

var kindWidths = map[Kind]int{
	KindU8:      1,
	KindU16:     2,
	KindU32:     4,
	KindU64:     8,
	KindU128:    16,
	KindU256:    32,
	KindAddress: 32,
}

// Valid reports whether k is one of the supported field kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Width returns the serialized width of k in bytes.
func (k Kind) Width() int {
	return kindWidths[k]
}

// String returns the manifest spelling of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", uint8(k))
}

// MarshalJSON encodes the kind by its manifest spelling so persisted
// descriptors stay readable and stable across releases.
func (k Kind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid kind %d", uint8(k))
	}
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON decodes a manifest spelling into a Kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("malformed kind %s", string(data))
	}
	parsed, err := ParseKind(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a manifest spelling ("u8" through "u256", "address") to a Kind.
func ParseKind(name string) (Kind, error) {
	for kind, spelled := range kindNames {
		if spelled == name {
			return kind, nil
		}
	}
	return KindInvalid, apperrors.WithMetadata(
		apperrors.CodeSchemaFieldKindInvalid,
		fmt.Sprintf("unsupported field kind %q", name),
		map[string]string{"kind": name},
	)
}
