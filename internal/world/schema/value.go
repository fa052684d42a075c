package schema

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
)

// Address is an opaque fixed-size account identifier.
type Address [32]byte

// Value is one typed field value. The payload is kept big-endian and
// right-aligned in a fixed 32-byte buffer so values are comparable and
// usable as composite-key material regardless of kind width.
type Value struct {
	kind Kind
	raw  [32]byte
}

// U8 builds a u8 value.
func U8(v uint8) Value {
	var val Value
	val.kind = KindU8
	val.raw[31] = v
	return val
}

// U16 builds a u16 value.
func U16(v uint16) Value {
	var val Value
	val.kind = KindU16
	binary.BigEndian.PutUint16(val.raw[30:], v)
	return val
}

// U32 builds a u32 value.
func U32(v uint32) Value {
	var val Value
	val.kind = KindU32
	binary.BigEndian.PutUint32(val.raw[28:], v)
	return val
}

// U64 builds a u64 value.
func U64(v uint64) Value {
	var val Value
	val.kind = KindU64
	binary.BigEndian.PutUint64(val.raw[24:], v)
	return val
}

// U128 builds a u128 value from its high and low 64-bit halves.
func U128(hi, lo uint64) Value {
	var val Value
	val.kind = KindU128
	binary.BigEndian.PutUint64(val.raw[16:], hi)
	binary.BigEndian.PutUint64(val.raw[24:], lo)
	return val
}

// U256 builds a u256 value from a big-endian 32-byte payload.
func U256(payload [32]byte) Value {
	return Value{kind: KindU256, raw: payload}
}

// AddressValue builds an address value.
func AddressValue(addr Address) Value {
	return Value{kind: KindAddress, raw: [32]byte(addr)}
}

// Zero returns the default value for kind: all bits clear.
func Zero(kind Kind) Value {
	return Value{kind: kind}
}

// FromBytes rebuilds a value of the given kind from the big-endian payload
// produced by Bytes. The payload must be exactly the kind's width.
func FromBytes(kind Kind, payload []byte) (Value, error) {
	if !kind.Valid() {
		return Value{}, apperrors.New(apperrors.CodeSchemaFieldKindInvalid, "field kind is invalid")
	}
	if len(payload) != kind.Width() {
		return Value{}, apperrors.WithMetadata(
			apperrors.CodeValueOutOfRange,
			fmt.Sprintf("payload has %d bytes, %s needs %d", len(payload), kind, kind.Width()),
			map[string]string{"kind": kind.String()},
		)
	}
	var val Value
	val.kind = kind
	copy(val.raw[32-len(payload):], payload)
	return val, nil
}

// Kind returns the value's field kind.
func (v Value) Kind() Kind {
	return v.kind
}

// Bytes returns the big-endian payload truncated to the kind's width.
func (v Value) Bytes() []byte {
	width := v.kind.Width()
	if width == 0 {
		return nil
	}
	out := make([]byte, width)
	copy(out, v.raw[32-width:])
	return out
}

// Uint64 returns the value as a uint64 when the kind fits in 64 bits.
func (v Value) Uint64() (uint64, bool) {
	switch v.kind {
	case KindU8, KindU16, KindU32, KindU64:
		return binary.BigEndian.Uint64(v.raw[24:]), true
	default:
		return 0, false
	}
}

// Address returns the value as an Address. ok is false for non-address kinds.
func (v Value) Address() (Address, bool) {
	if v.kind != KindAddress {
		return Address{}, false
	}
	return Address(v.raw), true
}

// IsZero reports whether the payload is the all-zero default.
func (v Value) IsZero() bool {
	return v.raw == [32]byte{}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.raw == other.raw
}

// String renders the value as kind-prefixed hex, e.g. "u64:0x2a".
func (v Value) String() string {
	payload := bytes.TrimLeft(v.Bytes(), "\x00")
	if len(payload) == 0 {
		payload = []byte{0}
	}
	if v.kind == KindAddress {
		// Addresses always render full width.
		payload = v.Bytes()
	}
	return fmt.Sprintf("%s:0x%s", v.kind, hex.EncodeToString(payload))
}

// MarshalJSON encodes the value in its kind-prefixed hex form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a kind-prefixed hex value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	kindName, payload, found := strings.Cut(text, ":")
	if !found {
		return fmt.Errorf("malformed value %q: missing kind prefix", text)
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return err
	}
	parsed, err := ParseValue(kind, payload)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue parses a textual payload into a value of the given kind.
// Hex payloads use a 0x prefix; kinds of 64 bits or fewer also accept
// decimal. The payload must fit the kind's declared width.
func ParseValue(kind Kind, text string) (Value, error) {
	if !kind.Valid() {
		return Value{}, apperrors.New(apperrors.CodeSchemaFieldKindInvalid, "field kind is invalid")
	}
	text = strings.TrimSpace(text)

	if hexPayload, ok := strings.CutPrefix(text, "0x"); ok {
		if len(hexPayload)%2 == 1 {
			hexPayload = "0" + hexPayload
		}
		decoded, err := hex.DecodeString(hexPayload)
		if err != nil {
			return Value{}, apperrors.Wrap(apperrors.CodeValueOutOfRange, fmt.Sprintf("malformed hex payload %q", text), err)
		}
		decoded = bytes.TrimLeft(decoded, "\x00")
		width := kind.Width()
		if len(decoded) > width {
			return Value{}, apperrors.WithMetadata(
				apperrors.CodeValueOutOfRange,
				fmt.Sprintf("payload %q exceeds %s width", text, kind),
				map[string]string{"kind": kind.String()},
			)
		}
		var val Value
		val.kind = kind
		copy(val.raw[32-len(decoded):], decoded)
		return val, nil
	}

	parsed, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return Value{}, apperrors.Wrap(apperrors.CodeValueOutOfRange, fmt.Sprintf("malformed payload %q", text), err)
	}
	switch kind {
	case KindU8:
		if parsed > 0xff {
			return Value{}, rangeError(kind, text)
		}
		return U8(uint8(parsed)), nil
	case KindU16:
		if parsed > 0xffff {
			return Value{}, rangeError(kind, text)
		}
		return U16(uint16(parsed)), nil
	case KindU32:
		if parsed > 0xffffffff {
			return Value{}, rangeError(kind, text)
		}
		return U32(uint32(parsed)), nil
	case KindU64:
		return U64(parsed), nil
	case KindU128:
		return U128(0, parsed), nil
	case KindU256:
		var val Value
		val.kind = KindU256
		binary.BigEndian.PutUint64(val.raw[24:], parsed)
		return val, nil
	default:
		return Value{}, apperrors.WithMetadata(
			apperrors.CodeValueOutOfRange,
			fmt.Sprintf("kind %s requires a 0x hex payload", kind),
			map[string]string{"kind": kind.String()},
		)
	}
}

func rangeError(kind Kind, text string) error {
	return apperrors.WithMetadata(
		apperrors.CodeValueOutOfRange,
		fmt.Sprintf("value %s does not fit %s", text, kind),
		map[string]string{"kind": kind.String(), "value": text},
	)
}
