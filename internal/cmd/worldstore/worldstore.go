// Package worldstore parses worldstore command flags and runs one-shot
// store operations against the configured backend.
package worldstore

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	entrypoint "github.com/louisbranch/worldstore/internal/platform/cmd"
	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
	"github.com/louisbranch/worldstore/internal/world/manifest"
	"github.com/louisbranch/worldstore/internal/world/schema"
	"github.com/louisbranch/worldstore/internal/world/storage"
	"github.com/louisbranch/worldstore/internal/world/storage/bbolt"
	"github.com/louisbranch/worldstore/internal/world/storage/sqlite"
	"github.com/louisbranch/worldstore/internal/world/store"
)

// Backend names accepted by the -backend flag.
const (
	BackendSQLite = "sqlite"
	BackendBbolt  = "bbolt"
)

// Config holds worldstore command configuration.
type Config struct {
	Backend      string `env:"WORLDSTORE_BACKEND" envDefault:"sqlite"`
	DBPath       string `env:"WORLDSTORE_DB_PATH" envDefault:"data/worldstore.db"`
	ManifestPath string `env:"WORLDSTORE_MANIFEST" envDefault:"schemas.yaml"`
	MaxRecords   int    `env:"WORLDSTORE_MAX_RECORDS"`

	// One-shot operation selection.
	Get    string
	Set    string
	Dump   string
	Key    string
	Values string

	// Output receives operation results. Defaults to os.Stdout.
	Output io.Writer
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Storage backend (sqlite or bbolt)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The store database path")
	fs.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "The schema manifest YAML path")
	fs.IntVar(&cfg.MaxRecords, "max-records", cfg.MaxRecords, "Record cap across all schemas (0 = unlimited)")
	fs.StringVar(&cfg.Get, "get", "", "Read the record of -key in the named schema")
	fs.StringVar(&cfg.Set, "set", "", "Write -values under -key in the named schema")
	fs.StringVar(&cfg.Dump, "dump", "", "Print every written record of the named schema")
	fs.StringVar(&cfg.Key, "key", "", "Comma-separated key tuple for -get/-set")
	fs.StringVar(&cfg.Values, "values", "", "Comma-separated value tuple for -set")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the configured backend, registers the manifest schemas and
// executes the selected one-shot operation.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorldstore, func(ctx context.Context) error {
		return annotateError(run(ctx, cfg))
	})
}

// annotateError prefixes domain failures with their code and the gRPC
// status a host RPC boundary would report for them.
func annotateError(err error) error {
	if err == nil {
		return nil
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeUnknown {
		return fmt.Errorf("%s (%s): %w", code, code.GRPCCode(), err)
	}
	return err
}

func run(ctx context.Context, cfg Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}

	s, err := store.New(ctx, store.WithBackend(backend), store.WithMaxRecords(cfg.MaxRecords))
	if err != nil {
		backend.Close()
		return err
	}
	defer s.Close()

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}
	for _, sc := range m.Schemas {
		if err := s.Register(ctx, sc); err != nil {
			return err
		}
	}

	switch {
	case cfg.Set != "":
		return runSet(ctx, s, cfg, out)
	case cfg.Get != "":
		return runGet(ctx, s, cfg, out)
	case cfg.Dump != "":
		return runDump(ctx, s, cfg.Dump, out)
	default:
		return runSummary(ctx, s, out)
	}
}

func openBackend(cfg Config) (storage.Backend, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return sqlite.Open(cfg.DBPath)
	case BackendBbolt:
		return bbolt.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", cfg.Backend, BackendSQLite, BackendBbolt)
	}
}

func runSet(ctx context.Context, s *store.Store, cfg Config, out io.Writer) error {
	sc, err := s.Schema(cfg.Set)
	if err != nil {
		return err
	}
	key, err := parseTuple(sc.KeyFields(), cfg.Key)
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}
	values, err := parseTuple(sc.ValueFields(), cfg.Values)
	if err != nil {
		return fmt.Errorf("parse values: %w", err)
	}
	if err := s.Set(ctx, cfg.Set, key, values); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s = %s\n", cfg.Set, formatTuple(key), formatTuple(values))
	return nil
}

func runGet(ctx context.Context, s *store.Store, cfg Config, out io.Writer) error {
	sc, err := s.Schema(cfg.Get)
	if err != nil {
		return err
	}
	key, err := parseTuple(sc.KeyFields(), cfg.Key)
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}
	values, err := s.Get(ctx, cfg.Get, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s = %s\n", cfg.Get, formatTuple(key), formatTuple(values))
	return nil
}

func runDump(ctx context.Context, s *store.Store, schemaName string, out io.Writer) error {
	records, err := s.Records(ctx, schemaName)
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool {
		return storage.EncodeKey(records[i].Key) < storage.EncodeKey(records[j].Key)
	})
	fmt.Fprintf(out, "%s: %d records\n", schemaName, len(records))
	for _, record := range records {
		fmt.Fprintf(out, "  %s = %s\n", formatTuple(record.Key), formatTuple(record.Values))
	}
	return nil
}

func runSummary(ctx context.Context, s *store.Store, out io.Writer) error {
	for _, name := range s.SchemaNames() {
		records, err := s.Records(ctx, name)
		if err != nil {
			return err
		}
		sc, err := s.Schema(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d fields, %d records\n", name, len(sc.Fields), len(records))
	}
	return nil
}

// parseTuple decodes a comma-separated tuple against the field shape.
func parseTuple(fields []schema.Field, text string) ([]schema.Value, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("expected %d values, got none", len(fields))
	}
	parts := strings.Split(text, ",")
	if len(parts) != len(fields) {
		return nil, fmt.Errorf("expected %d values, got %d", len(fields), len(parts))
	}
	tuple := make([]schema.Value, len(parts))
	for i, part := range parts {
		value, err := schema.ParseValue(fields[i].Kind, strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fields[i].Name, err)
		}
		tuple[i] = value
	}
	return tuple, nil
}

func formatTuple(values []schema.Value) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = value.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
