// Package storage defines the persistence boundary for the world store.
//
// A Backend keeps registered schemas and written records across restarts.
// The in-memory store remains the source of truth during a process
// lifetime; backends are write-through and only read at open.
package storage

import (
	"context"

	"github.com/louisbranch/worldstore/internal/world/schema"
)

// Record is one persisted component row: its key tuple and value tuple.
type Record struct {
	Key    []schema.Value `json:"key"`
	Values []schema.Value `json:"values"`
}

// Write pairs a record with the schema it belongs to, so one batch can
// span several schemas.
type Write struct {
	Schema string
	Record Record
}

// Backend persists schemas and records for a world store.
//
// PutRecords must apply its whole batch atomically: after a failure no
// write of the batch may be visible, even across schemas.
type Backend interface {
	PutSchema(ctx context.Context, s schema.Schema) error
	ListSchemas(ctx context.Context) ([]schema.Schema, error)
	PutRecords(ctx context.Context, writes []Write) error
	ListRecords(ctx context.Context, schemaName string) ([]Record, error)
	Close() error
}
