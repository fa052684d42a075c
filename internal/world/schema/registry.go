package schema

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/louisbranch/worldstore/internal/platform/errors"
)

// Registry holds the component schemas known to one store.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register validates and records a schema declaration. Registering the
// identical shape again is a no-op; a different shape under the same name
// fails with SCHEMA_REDEFINED.
func (r *Registry) Register(s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.schemas[s.Name]; ok {
		if existing.SameShape(s) {
			return nil
		}
		return apperrors.WithMetadata(
			apperrors.CodeSchemaRedefined,
			fmt.Sprintf("schema %s is already registered with a different shape", s.Name),
			map[string]string{"schema": s.Name},
		)
	}

	// Copy the field slice so later caller mutations cannot change the
	// registered shape.
	registered := Schema{Name: s.Name, Fields: append([]Field(nil), s.Fields...)}
	r.schemas[s.Name] = registered
	return nil
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	if !ok {
		return Schema{}, apperrors.WithMetadata(
			apperrors.CodeSchemaUnknown,
			fmt.Sprintf("schema %s is not registered", name),
			map[string]string{"schema": name},
		)
	}
	return s, nil
}

// Names returns the registered schema names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
