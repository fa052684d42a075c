// Package manifest loads component schema declarations from a YAML file,
// so hosts can describe their component shapes without writing Go.
package manifest

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/worldstore/internal/world/schema"
)

// Manifest is the decoded form of a schema declaration file.
type Manifest struct {
	Schemas []schema.Schema
}

type manifestSpec struct {
	Schemas []schemaSpec `yaml:"schemas"`
}

type schemaSpec struct {
	Name   string      `yaml:"name"`
	Fields []fieldSpec `yaml:"fields"`
}

type fieldSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Key  bool   `yaml:"key"`
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest from r and validates every declared schema.
func Parse(r io.Reader) (Manifest, error) {
	var spec manifestSpec
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return Manifest{}, fmt.Errorf("decode yaml: %w", err)
	}

	m := Manifest{Schemas: make([]schema.Schema, 0, len(spec.Schemas))}
	for _, s := range spec.Schemas {
		fields := make([]schema.Field, 0, len(s.Fields))
		for _, f := range s.Fields {
			kind, err := schema.ParseKind(f.Kind)
			if err != nil {
				return Manifest{}, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			fields = append(fields, schema.Field{Name: f.Name, Kind: kind, Key: f.Key})
		}
		sc := schema.Schema{Name: s.Name, Fields: fields}
		if err := sc.Validate(); err != nil {
			return Manifest{}, err
		}
		m.Schemas = append(m.Schemas, sc)
	}
	return m, nil
}
