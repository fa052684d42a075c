// Package sqlite provides a SQLite-backed persistence backend for the
// world store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/worldstore/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/worldstore/internal/world/schema"
	"github.com/louisbranch/worldstore/internal/world/storage"
	"github.com/louisbranch/worldstore/internal/world/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed world persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a world SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSchema persists a schema descriptor as JSON.
func (s *Store) PutSchema(ctx context.Context, sc schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("schema name is required")
	}

	descriptor, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal schema descriptor: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO world_schemas (name, descriptor, created_at)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET descriptor = excluded.descriptor
`, sc.Name, string(descriptor), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put schema: %w", err)
	}
	return nil
}

// ListSchemas returns all persisted schema descriptors ordered by name.
func (s *Store) ListSchemas(ctx context.Context) ([]schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT descriptor FROM world_schemas ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []schema.Schema
	for rows.Next() {
		var descriptor string
		if err := rows.Scan(&descriptor); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		var sc schema.Schema
		if err := json.Unmarshal([]byte(descriptor), &sc); err != nil {
			return nil, fmt.Errorf("unmarshal schema descriptor: %w", err)
		}
		schemas = append(schemas, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schemas, nil
}

// PutRecords upserts a batch of writes in one transaction, so a failed
// batch leaves no partial state behind.
func (s *Store) PutRecords(ctx context.Context, writes []storage.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record transaction: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	for _, write := range writes {
		if strings.TrimSpace(write.Schema) == "" {
			_ = tx.Rollback()
			return fmt.Errorf("schema name is required")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO world_records (schema_name, record_key, record_values, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (schema_name, record_key) DO UPDATE SET
	record_values = excluded.record_values,
	updated_at = excluded.updated_at
`, write.Schema, storage.EncodeTuple(write.Record.Key), storage.EncodeTuple(write.Record.Values), now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record transaction: %w", err)
	}
	return nil
}

// ListRecords returns all persisted records for a schema.
func (s *Store) ListRecords(ctx context.Context, schemaName string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(schemaName) == "" {
		return nil, fmt.Errorf("schema name is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT record_key, record_values FROM world_records
WHERE schema_name = ?
ORDER BY record_key
`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var keyBytes, valueBytes []byte
		if err := rows.Scan(&keyBytes, &valueBytes); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		key, err := storage.DecodeTuple(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("decode record key: %w", err)
		}
		values, err := storage.DecodeTuple(valueBytes)
		if err != nil {
			return nil, fmt.Errorf("decode record values: %w", err)
		}
		records = append(records, storage.Record{Key: key, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}
