// Package bbolt provides a BoltDB-backed persistence backend for the
// world store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/worldstore/internal/world/schema"
	"github.com/louisbranch/worldstore/internal/world/storage"
	"go.etcd.io/bbolt"
)

const (
	schemaBucket = "world_schemas"
	recordBucket = "world_records"
)

// Store provides a BoltDB-backed world persistence backend.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutSchema persists a schema descriptor.
func (s *Store) PutSchema(ctx context.Context, sc schema.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("schema name is required")
	}

	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal schema descriptor: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(schemaBucket))
		if bucket == nil {
			return fmt.Errorf("schema bucket is missing")
		}
		return bucket.Put([]byte(sc.Name), payload)
	})
}

// ListSchemas returns all persisted schema descriptors.
func (s *Store) ListSchemas(ctx context.Context) ([]schema.Schema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var schemas []schema.Schema
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(schemaBucket))
		if bucket == nil {
			return fmt.Errorf("schema bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var sc schema.Schema
			if err := json.Unmarshal(payload, &sc); err != nil {
				return fmt.Errorf("unmarshal schema descriptor: %w", err)
			}
			schemas = append(schemas, sc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return schemas, nil
}

// PutRecords upserts a batch of writes in one Bolt transaction, so a
// failed batch leaves no partial state behind.
func (s *Store) PutRecords(ctx context.Context, writes []storage.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(writes) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(recordBucket))
		if root == nil {
			return fmt.Errorf("record bucket is missing")
		}
		for _, write := range writes {
			if strings.TrimSpace(write.Schema) == "" {
				return fmt.Errorf("schema name is required")
			}
			bucket, err := root.CreateBucketIfNotExists([]byte(write.Schema))
			if err != nil {
				return fmt.Errorf("create schema record bucket: %w", err)
			}
			payload, err := json.Marshal(write.Record)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if err := bucket.Put(storage.EncodeTuple(write.Record.Key), payload); err != nil {
				return fmt.Errorf("put record: %w", err)
			}
		}
		return nil
	})
}

// ListRecords returns all persisted records for a schema.
func (s *Store) ListRecords(ctx context.Context, schemaName string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(schemaName) == "" {
		return nil, fmt.Errorf("schema name is required")
	}

	var records []storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(recordBucket))
		if root == nil {
			return fmt.Errorf("record bucket is missing")
		}
		bucket := root.Bucket([]byte(schemaName))
		if bucket == nil {
			// Schema has no written records yet.
			return nil
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var record storage.Record
			if err := json.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(schemaBucket)); err != nil {
			return fmt.Errorf("create schema bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucket)); err != nil {
			return fmt.Errorf("create record bucket: %w", err)
		}
		return nil
	})
}
