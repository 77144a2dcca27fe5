// Package validation applies per-kind schemas and business rules to entity
// metadata before anything touches disk. Validation never mutates its input.
package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/untoldecay/kira/internal/types"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema describes the structural contract for one entity kind: required
// front-matter keys, value enums, and the folder the kind lives in.
type Schema struct {
	Kind     string              `json:"kind"`
	Folder   string              `json:"folder"`
	Required []string            `json:"required"`
	Enums    map[string][]string `json:"enums,omitempty"`
}

// Registry holds the loaded schemas for all supported kinds.
type Registry struct {
	schemas map[types.Kind]*Schema
}

// LoadDefaults builds a registry from the embedded schema files.
func LoadDefaults() (*Registry, error) {
	r := &Registry{schemas: make(map[types.Kind]*Schema)}
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", entry.Name(), err)
		}
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", entry.Name(), err)
		}
		r.schemas[types.Kind(s.Kind)] = &s
	}
	return r, nil
}

// LoadDir overlays schemas from a vault's .kira/schemas directory on top of
// the embedded defaults. Missing directory is not an error.
func LoadDir(dir string) (*Registry, error) {
	r, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("%w: reading schema dir: %v", types.ErrIO, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: reading schema %s: %v", types.ErrIO, entry.Name(), err)
		}
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: parsing schema %s: %v", types.ErrIO, entry.Name(), err)
		}
		r.schemas[types.Kind(s.Kind)] = &s
	}
	return r, nil
}

// Schema returns the schema for a kind, or nil when the kind is unknown.
func (r *Registry) Schema(kind types.Kind) *Schema {
	return r.schemas[kind]
}

// WriteDefaults materializes the embedded schemas into dir (vault init).
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating schema dir: %v", types.ErrIO, err)
	}
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("reading embedded schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading schema %s: %w", entry.Name(), err)
		}
		target := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue // never clobber a customized schema
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return fmt.Errorf("%w: writing schema %s: %v", types.ErrIO, entry.Name(), err)
		}
	}
	return nil
}
