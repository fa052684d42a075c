package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
	"github.com/louisbranch/worldstore/internal/world/schema"
	"github.com/louisbranch/worldstore/internal/world/storage"
	"github.com/louisbranch/worldstore/internal/world/storage/bbolt"
	"github.com/louisbranch/worldstore/internal/world/storage/sqlite"
	"github.com/louisbranch/worldstore/internal/world/store"
)

func healthSchema() schema.Schema {
	return schema.Schema{
		Name: "health",
		Fields: []schema.Field{
			{Name: "entity_id", Kind: schema.KindU32, Key: true},
			{Name: "health", Kind: schema.KindU8},
		},
	}
}

func positionSchema() schema.Schema {
	return schema.Schema{
		Name: "position",
		Fields: []schema.Field{
			{Name: "entity_id", Kind: schema.KindU32, Key: true},
			{Name: "x", Kind: schema.KindU64},
			{Name: "y", Kind: schema.KindU64},
		},
	}
}

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func mustUint64(t *testing.T, v schema.Value) uint64 {
	t.Helper()
	n, ok := v.Uint64()
	if !ok {
		t.Fatalf("value %v does not fit in uint64", v)
	}
	return n
}

func mustRegister(t *testing.T, s *store.Store, sc schema.Schema) {
	t.Helper()
	if err := s.Register(context.Background(), sc); err != nil {
		t.Fatalf("Register(%s) error = %v", sc.Name, err)
	}
}

func TestGetUnwrittenKeyReturnsZeros(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())

	values, err := s.Get(context.Background(), "health", []schema.Value{schema.U32(7)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("Get() returned %d values, want 1", len(values))
	}
	if !values[0].IsZero() {
		t.Errorf("Get() on unwritten key = %v, want zero", values[0])
	}
	if values[0].Kind() != schema.KindU8 {
		t.Errorf("Get() kind = %v, want %v", values[0].Kind(), schema.KindU8)
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()

	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(90)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	values, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 90 {
		t.Errorf("Get() = %d, want 90", got)
	}
}

func TestSetIsLastWriteWins(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(1)}

	for _, hp := range []uint8{10, 20, 30} {
		if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(hp)}); err != nil {
			t.Fatalf("Set(%d) error = %v", hp, err)
		}
	}

	values, err := s.Get(ctx, "health", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 30 {
		t.Errorf("Get() = %d, want 30", got)
	}
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()

	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(11)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "health", []schema.Value{schema.U32(2)}, []schema.Value{schema.U8(22)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	values, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 11 {
		t.Errorf("Get(key 1) = %d, want 11", got)
	}
}

func TestSameKeyAcrossSchemasIsIndependent(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	mustRegister(t, s, positionSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(9)}

	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(50)}); err != nil {
		t.Fatalf("Set(health) error = %v", err)
	}

	values, err := s.Get(ctx, "position", key)
	if err != nil {
		t.Fatalf("Get(position) error = %v", err)
	}
	for i, v := range values {
		if !v.IsZero() {
			t.Errorf("position value %d = %v, want zero", i, v)
		}
	}
}

func TestSetUnknownSchema(t *testing.T) {
	s := newStore(t)

	err := s.Set(context.Background(), "ghost", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(1)})
	if !apperrors.IsCode(err, apperrors.CodeSchemaUnknown) {
		t.Errorf("Set(unknown schema) error = %v, want %s", err, apperrors.CodeSchemaUnknown)
	}
}

func TestSetKeyShapeMismatch(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())

	err := s.Set(context.Background(), "health", []schema.Value{schema.U64(1)}, []schema.Value{schema.U8(1)})
	if !apperrors.IsCode(err, apperrors.CodeKeyShapeMismatch) {
		t.Errorf("Set(wrong key kind) error = %v, want %s", err, apperrors.CodeKeyShapeMismatch)
	}
}

func TestFailedSetLeavesRecordUntouched(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(4)}

	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(77)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "health", key, []schema.Value{schema.U64(1)}); err == nil {
		t.Fatal("Set(wrong value kind) expected error")
	}

	values, err := s.Get(ctx, "health", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 77 {
		t.Errorf("Get() after failed Set = %d, want 77", got)
	}
}

func TestConcurrentUpdatesLoseNoIncrements(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, schema.Schema{
		Name: "counter",
		Fields: []schema.Field{
			{Name: "counter_id", Kind: schema.KindU8, Key: true},
			{Name: "count", Kind: schema.KindU64},
		},
	})
	ctx := context.Background()
	key := []schema.Value{schema.U8(0)}

	const workers = 16
	const iterations = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				err := s.Update(ctx, "counter", key, func(current []schema.Value) ([]schema.Value, error) {
					count, _ := current[0].Uint64()
					return []schema.Value{schema.U64(count + 1)}, nil
				})
				if err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	values, err := s.Get(ctx, "counter", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != workers*iterations {
		t.Errorf("counter = %d, want %d", got, workers*iterations)
	}
}

func TestSetManyAppliesAllEntries(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	mustRegister(t, s, positionSchema())
	ctx := context.Background()

	err := s.SetMany(ctx, []store.Entry{
		{Schema: "health", Key: []schema.Value{schema.U32(1)}, Values: []schema.Value{schema.U8(100)}},
		{Schema: "position", Key: []schema.Value{schema.U32(1)}, Values: []schema.Value{schema.U64(3), schema.U64(4)}},
	})
	if err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	health, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get(health) error = %v", err)
	}
	if got := mustUint64(t, health[0]); got != 100 {
		t.Errorf("health = %d, want 100", got)
	}
	position, err := s.Get(ctx, "position", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get(position) error = %v", err)
	}
	x, y := mustUint64(t, position[0]), mustUint64(t, position[1])
	if x != 3 || y != 4 {
		t.Errorf("position = (%d, %d), want (3, 4)", x, y)
	}
}

func TestSetManyRejectsWholeBatchOnMalformedEntry(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()

	err := s.SetMany(ctx, []store.Entry{
		{Schema: "health", Key: []schema.Value{schema.U32(1)}, Values: []schema.Value{schema.U8(100)}},
		{Schema: "health", Key: []schema.Value{schema.U32(2)}, Values: []schema.Value{schema.U64(5)}},
	})
	if !apperrors.IsCode(err, apperrors.CodeValueShapeMismatch) {
		t.Fatalf("SetMany() error = %v, want %s", err, apperrors.CodeValueShapeMismatch)
	}

	values, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !values[0].IsZero() {
		t.Errorf("first batch entry applied despite rejected batch: %v", values[0])
	}
}

func TestSetManyLastEntryWinsForDuplicateKey(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(1)}

	err := s.SetMany(ctx, []store.Entry{
		{Schema: "health", Key: key, Values: []schema.Value{schema.U8(10)}},
		{Schema: "health", Key: key, Values: []schema.Value{schema.U8(20)}},
	})
	if err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	values, err := s.Get(ctx, "health", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 20 {
		t.Errorf("Get() = %d, want 20", got)
	}
}

func TestSetManyEmptyBatchIsNoOp(t *testing.T) {
	s := newStore(t)
	if err := s.SetMany(context.Background(), nil); err != nil {
		t.Errorf("SetMany(nil) error = %v", err)
	}
}

func TestMaxRecordsRejectsNewKeys(t *testing.T) {
	s := newStore(t, store.WithMaxRecords(2))
	mustRegister(t, s, healthSchema())
	ctx := context.Background()

	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(1)}); err != nil {
		t.Fatalf("Set(1) error = %v", err)
	}
	if err := s.Set(ctx, "health", []schema.Value{schema.U32(2)}, []schema.Value{schema.U8(2)}); err != nil {
		t.Fatalf("Set(2) error = %v", err)
	}

	err := s.Set(ctx, "health", []schema.Value{schema.U32(3)}, []schema.Value{schema.U8(3)})
	if !apperrors.IsCode(err, apperrors.CodeCapacityExceeded) {
		t.Errorf("Set beyond cap error = %v, want %s", err, apperrors.CodeCapacityExceeded)
	}

	// Overwriting an existing key consumes no budget.
	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(9)}); err != nil {
		t.Errorf("Set(existing key at cap) error = %v", err)
	}
}

func TestRecordsListsWrittenRecords(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())
	ctx := context.Background()

	for id := uint32(1); id <= 3; id++ {
		if err := s.Set(ctx, "health", []schema.Value{schema.U32(id)}, []schema.Value{schema.U8(uint8(id))}); err != nil {
			t.Fatalf("Set(%d) error = %v", id, err)
		}
	}

	records, err := s.Records(ctx, "health")
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("Records() returned %d records, want 3", len(records))
	}
}

func TestCanceledContextRejectsOperations(t *testing.T) {
	s := newStore(t)
	mustRegister(t, s, healthSchema())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(1)}); err == nil {
		t.Error("Set() with canceled context expected error")
	}
	if _, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)}); err == nil {
		t.Error("Get() with canceled context expected error")
	}
}

func TestSQLiteBackendPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")

	openBackend := func() storage.Backend {
		backend, err := sqlite.Open(path)
		if err != nil {
			t.Fatalf("sqlite.Open() error = %v", err)
		}
		return backend
	}

	s, err := store.New(context.Background(), store.WithBackend(openBackend()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	mustRegister(t, s, healthSchema())
	if err := s.Set(ctx, "health", []schema.Value{schema.U32(1)}, []schema.Value{schema.U8(42)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := store.New(ctx, store.WithBackend(openBackend()))
	if err != nil {
		t.Fatalf("New() after reopen error = %v", err)
	}
	defer reopened.Close()

	values, err := reopened.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 42 {
		t.Errorf("Get() after reopen = %d, want 42", got)
	}
	if names := reopened.SchemaNames(); len(names) != 1 || names[0] != "health" {
		t.Errorf("SchemaNames() after reopen = %v, want [health]", names)
	}
}

func TestBboltBackendPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.bbolt")

	openBackend := func() storage.Backend {
		backend, err := bbolt.Open(path)
		if err != nil {
			t.Fatalf("bbolt.Open() error = %v", err)
		}
		return backend
	}

	ctx := context.Background()
	s, err := store.New(ctx, store.WithBackend(openBackend()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mustRegister(t, s, positionSchema())
	if err := s.Set(ctx, "position", []schema.Value{schema.U32(5)}, []schema.Value{schema.U64(8), schema.U64(13)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := store.New(ctx, store.WithBackend(openBackend()))
	if err != nil {
		t.Fatalf("New() after reopen error = %v", err)
	}
	defer reopened.Close()

	values, err := reopened.Get(ctx, "position", []schema.Value{schema.U32(5)})
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	x, y := mustUint64(t, values[0]), mustUint64(t, values[1])
	if x != 8 || y != 13 {
		t.Errorf("Get() after reopen = (%d, %d), want (8, 13)", x, y)
	}
}

// failingBackend accepts schema writes but rejects record writes on
// demand, so rollback behavior is observable.
type failingBackend struct {
	failPuts bool
}

func (b *failingBackend) PutSchema(ctx context.Context, sc schema.Schema) error { return nil }

func (b *failingBackend) ListSchemas(ctx context.Context) ([]schema.Schema, error) {
	return nil, nil
}

func (b *failingBackend) PutRecords(ctx context.Context, writes []storage.Write) error {
	if b.failPuts {
		return errors.New("disk full")
	}
	return nil
}

func (b *failingBackend) ListRecords(ctx context.Context, schemaName string) ([]storage.Record, error) {
	return nil, nil
}

func (b *failingBackend) Close() error { return nil }

func TestBackendFailureLeavesPriorValueVisible(t *testing.T) {
	backend := &failingBackend{}
	s := newStore(t, store.WithBackend(backend))
	mustRegister(t, s, healthSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(1)}

	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(50)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	backend.failPuts = true
	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(60)}); err == nil {
		t.Fatal("Set() with failing backend expected error")
	}

	values, err := s.Get(ctx, "health", key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := mustUint64(t, values[0]); got != 50 {
		t.Errorf("Get() after failed backend write = %d, want 50", got)
	}
}

func TestBackendFailureDiscardsBatch(t *testing.T) {
	backend := &failingBackend{}
	s := newStore(t, store.WithBackend(backend))
	mustRegister(t, s, healthSchema())
	mustRegister(t, s, positionSchema())
	ctx := context.Background()

	backend.failPuts = true
	err := s.SetMany(ctx, []store.Entry{
		{Schema: "health", Key: []schema.Value{schema.U32(1)}, Values: []schema.Value{schema.U8(100)}},
		{Schema: "position", Key: []schema.Value{schema.U32(1)}, Values: []schema.Value{schema.U64(3), schema.U64(4)}},
	})
	if err == nil {
		t.Fatal("SetMany() with failing backend expected error")
	}

	values, err := s.Get(ctx, "health", []schema.Value{schema.U32(1)})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !values[0].IsZero() {
		t.Errorf("batch entry applied despite backend failure: %v", values[0])
	}
}

func TestBackendFailureReleasesCapacity(t *testing.T) {
	backend := &failingBackend{failPuts: true}
	s := newStore(t, store.WithBackend(backend), store.WithMaxRecords(1))
	mustRegister(t, s, healthSchema())
	ctx := context.Background()
	key := []schema.Value{schema.U32(1)}

	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(1)}); err == nil {
		t.Fatal("Set() with failing backend expected error")
	}

	// A released reservation leaves the full cap for the retry.
	backend.failPuts = false
	if err := s.Set(ctx, "health", key, []schema.Value{schema.U8(1)}); err != nil {
		t.Errorf("Set() after backend recovery error = %v", err)
	}
}
