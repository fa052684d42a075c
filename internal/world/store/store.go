// Package store implements the keyed component store: typed component
// records addressed by composite keys, with write-through persistence and
// per-schema serialization of access.
package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
	"github.com/louisbranch/worldstore/internal/world/schema"
	"github.com/louisbranch/worldstore/internal/world/storage"
)

const tracerName = "github.com/louisbranch/worldstore/internal/world/store"

// Entry is one upsert in a batch write.
type Entry struct {
	Schema string
	Key    []schema.Value
	Values []schema.Value
}

// table holds the records of one schema. Its mutex serializes every
// access to the schema, which also covers the per-key ordering the
// read-modify-write contract requires.
type table struct {
	mu      sync.Mutex
	records map[string]storage.Record
}

// Store is a keyed component store. Records are addressed by
// (schema, key tuple); reads of never-written keys return the schema's
// zero value tuple.
type Store struct {
	registry *schema.Registry
	backend  storage.Backend
	tracer   trace.Tracer

	mu     sync.RWMutex
	tables map[string]*table

	capMu       sync.Mutex
	maxRecords  int
	recordCount int
}

// Option configures a Store.
type Option func(*Store)

// WithBackend attaches a persistence backend. Existing schemas and
// records are loaded at New; writes go through to the backend before
// they become visible in memory.
func WithBackend(backend storage.Backend) Option {
	return func(s *Store) {
		s.backend = backend
	}
}

// WithMaxRecords caps the number of distinct records across all schemas.
// Zero means unlimited.
func WithMaxRecords(max int) Option {
	return func(s *Store) {
		s.maxRecords = max
	}
}

// New creates a Store and, when a backend is attached, loads its
// persisted schemas and records.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		registry: schema.NewRegistry(),
		tables:   make(map[string]*table),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.backend != nil {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register declares a component schema. Registering an identical shape
// again is a no-op; a conflicting shape fails with SCHEMA_REDEFINED.
func (s *Store) Register(ctx context.Context, sc schema.Schema) error {
	ctx, span := s.tracer.Start(ctx, "store.Register",
		trace.WithAttributes(attribute.String("schema", sc.Name)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.registry.Register(sc); err != nil {
		span.RecordError(err)
		return err
	}
	if s.backend != nil {
		if err := s.backend.PutSchema(ctx, sc); err != nil {
			span.RecordError(err)
			return fmt.Errorf("persist schema %s: %w", sc.Name, err)
		}
	}
	return nil
}

// Schema returns the registered schema for name.
func (s *Store) Schema(name string) (schema.Schema, error) {
	return s.registry.Get(name)
}

// SchemaNames returns the registered schema names in sorted order.
func (s *Store) SchemaNames() []string {
	return s.registry.Names()
}

// Set upserts the record for key. Prior value fields are fully replaced,
// never merged. A failed Set leaves the prior record untouched.
func (s *Store) Set(ctx context.Context, schemaName string, key, values []schema.Value) error {
	ctx, span := s.tracer.Start(ctx, "store.Set",
		trace.WithAttributes(attribute.String("schema", schemaName)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	sc, err := s.registry.Get(schemaName)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := sc.CheckKey(key); err != nil {
		span.RecordError(err)
		return err
	}
	if err := sc.CheckValues(values); err != nil {
		span.RecordError(err)
		return err
	}

	t := s.table(schemaName)
	t.mu.Lock()
	defer t.mu.Unlock()

	record := copyRecord(key, values)
	if err := s.commit(ctx, t, []storage.Write{{Schema: schemaName, Record: record}}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Get returns a copy of the value tuple stored under key, or the
// schema's zero tuple when the key was never written. Absence is not an
// error.
func (s *Store) Get(ctx context.Context, schemaName string, key []schema.Value) ([]schema.Value, error) {
	ctx, span := s.tracer.Start(ctx, "store.Get",
		trace.WithAttributes(attribute.String("schema", schemaName)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := s.registry.Get(schemaName)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := sc.CheckKey(key); err != nil {
		span.RecordError(err)
		return nil, err
	}

	t := s.table(schemaName)
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[storage.EncodeKey(key)]
	if !ok {
		return sc.ZeroValues(), nil
	}
	return append([]schema.Value(nil), record.Values...), nil
}

// Update applies fn to the current value tuple of key and stores the
// result, holding the schema lock for the whole read-compute-write. fn
// receives the zero tuple for never-written keys. Concurrent Updates of
// the same key serialize, so counter increments never lose writes.
func (s *Store) Update(ctx context.Context, schemaName string, key []schema.Value, fn func([]schema.Value) ([]schema.Value, error)) error {
	ctx, span := s.tracer.Start(ctx, "store.Update",
		trace.WithAttributes(attribute.String("schema", schemaName)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("update function is required")
	}
	sc, err := s.registry.Get(schemaName)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := sc.CheckKey(key); err != nil {
		span.RecordError(err)
		return err
	}

	t := s.table(schemaName)
	t.mu.Lock()
	defer t.mu.Unlock()

	current := sc.ZeroValues()
	if record, ok := t.records[storage.EncodeKey(key)]; ok {
		current = append([]schema.Value(nil), record.Values...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if err := sc.CheckValues(next); err != nil {
		span.RecordError(err)
		return err
	}

	record := copyRecord(key, next)
	if err := s.commit(ctx, t, []storage.Write{{Schema: schemaName, Record: record}}); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// SetMany applies a batch of upserts atomically: every entry becomes
// visible together, or none does. Entries are validated up front, so a
// malformed later entry rejects the whole batch.
func (s *Store) SetMany(ctx context.Context, entries []Entry) error {
	ctx, span := s.tracer.Start(ctx, "store.SetMany",
		trace.WithAttributes(attribute.Int("batch.size", len(entries))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	writes := make([]storage.Write, 0, len(entries))
	schemaSet := make(map[string]struct{})
	for _, entry := range entries {
		sc, err := s.registry.Get(entry.Schema)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if err := sc.CheckKey(entry.Key); err != nil {
			span.RecordError(err)
			return err
		}
		if err := sc.CheckValues(entry.Values); err != nil {
			span.RecordError(err)
			return err
		}
		writes = append(writes, storage.Write{
			Schema: entry.Schema,
			Record: copyRecord(entry.Key, entry.Values),
		})
		schemaSet[entry.Schema] = struct{}{}
	}

	// Lock touched tables in sorted name order so concurrent batches
	// cannot deadlock.
	names := make([]string, 0, len(schemaSet))
	for name := range schemaSet {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make(map[string]*table, len(names))
	for _, name := range names {
		t := s.table(name)
		t.mu.Lock()
		defer t.mu.Unlock()
		tables[name] = t
	}

	if err := s.commitMany(ctx, tables, writes); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Records returns a copy of every written record for a schema, in
// unspecified order. Keys that were never written do not appear.
func (s *Store) Records(ctx context.Context, schemaName string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(schemaName); err != nil {
		return nil, err
	}

	t := s.table(schemaName)
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]storage.Record, 0, len(t.records))
	for _, record := range t.records {
		records = append(records, storage.Record{
			Key:    append([]schema.Value(nil), record.Key...),
			Values: append([]schema.Value(nil), record.Values...),
		})
	}
	return records, nil
}

// Close releases the attached backend, if any.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// commit persists writes for a single already-locked table and then
// applies them to memory.
func (s *Store) commit(ctx context.Context, t *table, writes []storage.Write) error {
	return s.commitMany(ctx, map[string]*table{writes[0].Schema: t}, writes)
}

// commitMany persists a batch and applies it to the locked tables.
// Capacity is reserved before the backend write and released again on
// failure, so a failed batch leaves neither records nor budget behind.
func (s *Store) commitMany(ctx context.Context, tables map[string]*table, writes []storage.Write) error {
	newRecords := 0
	staged := make(map[string]map[string]storage.Record, len(tables))
	for _, write := range writes {
		t := tables[write.Schema]
		encoded := storage.EncodeKey(write.Record.Key)
		if staged[write.Schema] == nil {
			staged[write.Schema] = make(map[string]storage.Record)
		}
		_, inBatch := staged[write.Schema][encoded]
		_, exists := t.records[encoded]
		if !exists && !inBatch {
			newRecords++
		}
		staged[write.Schema][encoded] = write.Record
	}

	if err := s.reserve(newRecords); err != nil {
		return err
	}

	if s.backend != nil {
		if err := s.backend.PutRecords(ctx, writes); err != nil {
			s.release(newRecords)
			return fmt.Errorf("persist records: %w", err)
		}
	}

	for name, records := range staged {
		t := tables[name]
		if t.records == nil {
			t.records = make(map[string]storage.Record)
		}
		for encoded, record := range records {
			t.records[encoded] = record
		}
	}
	return nil
}

// table returns the record table for a schema, creating it on first use.
func (s *Store) table(name string) *table {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t
	}
	t = &table{records: make(map[string]storage.Record)}
	s.tables[name] = t
	return t
}

// load restores schemas and records from the backend at startup.
func (s *Store) load(ctx context.Context) error {
	schemas, err := s.backend.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	for _, sc := range schemas {
		if err := s.registry.Register(sc); err != nil {
			return fmt.Errorf("restore schema %s: %w", sc.Name, err)
		}
		records, err := s.backend.ListRecords(ctx, sc.Name)
		if err != nil {
			return fmt.Errorf("load %s records: %w", sc.Name, err)
		}
		t := s.table(sc.Name)
		for _, record := range records {
			t.records[storage.EncodeKey(record.Key)] = record
		}
		s.recordCount += len(records)
	}
	if s.maxRecords > 0 && s.recordCount > s.maxRecords {
		return apperrors.WithMetadata(
			apperrors.CodeCapacityExceeded,
			fmt.Sprintf("backend holds %d records, cap is %d", s.recordCount, s.maxRecords),
			map[string]string{"count": strconv.Itoa(s.recordCount), "cap": strconv.Itoa(s.maxRecords)},
		)
	}
	return nil
}

func (s *Store) reserve(n int) error {
	if n == 0 {
		return nil
	}
	s.capMu.Lock()
	defer s.capMu.Unlock()
	if s.maxRecords > 0 && s.recordCount+n > s.maxRecords {
		return apperrors.WithMetadata(
			apperrors.CodeCapacityExceeded,
			fmt.Sprintf("record cap %d reached", s.maxRecords),
			map[string]string{"cap": strconv.Itoa(s.maxRecords)},
		)
	}
	s.recordCount += n
	return nil
}

func (s *Store) release(n int) {
	if n == 0 {
		return
	}
	s.capMu.Lock()
	defer s.capMu.Unlock()
	s.recordCount -= n
}

// copyRecord snapshots caller tuples so later mutations of the argument
// slices cannot reach stored state.
func copyRecord(key, values []schema.Value) storage.Record {
	return storage.Record{
		Key:    append([]schema.Value(nil), key...),
		Values: append([]schema.Value(nil), values...),
	}
}
