// Package errors provides structured domain errors for the world store.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Schema registration errors
	CodeSchemaNameEmpty        Code = "SCHEMA_NAME_EMPTY"
	CodeSchemaNoKeyFields      Code = "SCHEMA_NO_KEY_FIELDS"
	CodeSchemaFieldNameEmpty   Code = "SCHEMA_FIELD_NAME_EMPTY"
	CodeSchemaDuplicateField   Code = "SCHEMA_DUPLICATE_FIELD"
	CodeSchemaFieldKindInvalid Code = "SCHEMA_FIELD_KIND_INVALID"
	CodeSchemaRedefined        Code = "SCHEMA_REDEFINED"

	// Record access errors
	CodeSchemaUnknown      Code = "SCHEMA_UNKNOWN"
	CodeKeyShapeMismatch   Code = "KEY_SHAPE_MISMATCH"
	CodeValueShapeMismatch Code = "VALUE_SHAPE_MISMATCH"
	CodeValueOutOfRange    Code = "VALUE_OUT_OF_RANGE"

	// Resource errors
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
)

// GRPCCode maps domain codes to gRPC status codes so hosts embedding the
// store can surface failures over their own RPC boundary.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSchemaNameEmpty,
		CodeSchemaNoKeyFields,
		CodeSchemaFieldNameEmpty,
		CodeSchemaDuplicateField,
		CodeSchemaFieldKindInvalid,
		CodeKeyShapeMismatch,
		CodeValueShapeMismatch,
		CodeValueOutOfRange:
		return codes.InvalidArgument

	// AlreadyExists - conflicting registration
	case CodeSchemaRedefined:
		return codes.AlreadyExists

	// NotFound - schema was never registered
	case CodeSchemaUnknown:
		return codes.NotFound

	// ResourceExhausted - store capacity
	case CodeCapacityExceeded:
		return codes.ResourceExhausted

	default:
		return codes.Internal
	}
}
