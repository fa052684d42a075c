package schema

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
)

// Field is one declared field of a component schema.
type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Key  bool   `json:"key"`
}

// Schema describes one component kind: its name and ordered field list.
// Field order is part of the shape; key fields compose the record key in
// declaration order.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Validate checks the structural rules for a schema declaration.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return apperrors.New(apperrors.CodeSchemaNameEmpty, "schema name is required")
	}

	keyCount := 0
	seen := make(map[string]struct{}, len(s.Fields))
	for i, field := range s.Fields {
		if strings.TrimSpace(field.Name) == "" {
			return apperrors.WithMetadata(
				apperrors.CodeSchemaFieldNameEmpty,
				fmt.Sprintf("schema %s: field %d has no name", s.Name, i),
				map[string]string{"schema": s.Name, "index": strconv.Itoa(i)},
			)
		}
		if _, dup := seen[field.Name]; dup {
			return apperrors.WithMetadata(
				apperrors.CodeSchemaDuplicateField,
				fmt.Sprintf("schema %s: duplicate field %s", s.Name, field.Name),
				map[string]string{"schema": s.Name, "field": field.Name},
			)
		}
		seen[field.Name] = struct{}{}
		if !field.Kind.Valid() {
			return apperrors.WithMetadata(
				apperrors.CodeSchemaFieldKindInvalid,
				fmt.Sprintf("schema %s: field %s has unsupported kind", s.Name, field.Name),
				map[string]string{"schema": s.Name, "field": field.Name},
			)
		}
		if field.Key {
			keyCount++
		}
	}

	if keyCount == 0 {
		return apperrors.WithMetadata(
			apperrors.CodeSchemaNoKeyFields,
			fmt.Sprintf("schema %s declares no key fields", s.Name),
			map[string]string{"schema": s.Name},
		)
	}
	return nil
}

// KeyFields returns the key fields in declaration order.
func (s Schema) KeyFields() []Field {
	var fields []Field
	for _, field := range s.Fields {
		if field.Key {
			fields = append(fields, field)
		}
	}
	return fields
}

// ValueFields returns the non-key fields in declaration order.
func (s Schema) ValueFields() []Field {
	var fields []Field
	for _, field := range s.Fields {
		if !field.Key {
			fields = append(fields, field)
		}
	}
	return fields
}

// ZeroValues returns the default value tuple for the schema's value fields.
// Reads of never-written keys return this tuple.
func (s Schema) ZeroValues() []Value {
	fields := s.ValueFields()
	values := make([]Value, len(fields))
	for i, field := range fields {
		values[i] = Zero(field.Kind)
	}
	return values
}

// SameShape reports whether two schemas declare the identical field layout.
func (s Schema) SameShape(other Schema) bool {
	if s.Name != other.Name || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// CheckKey verifies a key tuple against the schema's declared key fields.
func (s Schema) CheckKey(key []Value) error {
	return checkTuple(s, s.KeyFields(), key, apperrors.CodeKeyShapeMismatch, "key")
}

// CheckValues verifies a value tuple against the schema's declared value fields.
func (s Schema) CheckValues(values []Value) error {
	return checkTuple(s, s.ValueFields(), values, apperrors.CodeValueShapeMismatch, "value")
}

func checkTuple(s Schema, fields []Field, tuple []Value, code apperrors.Code, label string) error {
	if len(tuple) != len(fields) {
		return apperrors.WithMetadata(
			code,
			fmt.Sprintf("schema %s: %s tuple has %d elements, want %d", s.Name, label, len(tuple), len(fields)),
			map[string]string{
				"schema": s.Name,
				"got":    strconv.Itoa(len(tuple)),
				"want":   strconv.Itoa(len(fields)),
			},
		)
	}
	for i, field := range fields {
		if tuple[i].Kind() != field.Kind {
			return apperrors.WithMetadata(
				code,
				fmt.Sprintf("schema %s: %s field %s is %s, got %s", s.Name, label, field.Name, field.Kind, tuple[i].Kind()),
				map[string]string{"schema": s.Name, "field": field.Name},
			)
		}
	}
	return nil
}
