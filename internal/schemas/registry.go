// Package schemas owns the per-category extraction schemas: which fields a
// document type carries, which of them are critical, and how extraction
// output is validated against them.
package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dleary/packetflow/internal/packet"
)

type FieldSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	// Critical fields must be resolved (value or explicit not-in-document)
	// for a document to pass without review.
	Critical bool `json:"critical,omitempty"`
}

type Schema struct {
	Category string      `json:"category"`
	Fields   []FieldSpec `json:"fields"`
}

func (s Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

func (s Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (s Schema) CriticalFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Critical {
			out = append(out, f.Name)
		}
	}
	return out
}

// JSONSchema renders the schema as a draft JSON-Schema document suitable for
// the extract endpoint and for output validation. Every field is nullable:
// absence is legal, the quality scorer decides what it costs.
func (s Schema) JSONSchema() map[string]any {
	props := map[string]any{}
	for _, f := range s.Fields {
		t := f.Type
		if t == "" {
			t = "string"
		}
		props[f.Name] = map[string]any{
			"type":        []string{t, "null"},
			"description": f.Description,
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

// Registry maps categories to schemas and keeps a compiled validator per
// category.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]Schema
	compiled map[string]*jsonschema.Schema
}

func NewRegistry(schemas ...Schema) (*Registry, error) {
	r := &Registry{
		schemas:  map[string]Schema{},
		compiled: map[string]*jsonschema.Schema{},
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Schema) error {
	if s.Category == "" {
		return fmt.Errorf("schema category is required")
	}
	blob, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return fmt.Errorf("marshal schema %s: %w", s.Category, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(s.Category+".json", bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("add schema %s: %w", s.Category, err)
	}
	compiled, err := compiler.Compile(s.Category + ".json")
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", s.Category, err)
	}
	r.mu.Lock()
	r.schemas[s.Category] = s
	r.compiled[s.Category] = compiled
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(category string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[category]
	return s, ok
}

func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for c := range r.schemas {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate checks raw extraction output (field name → raw value) against the
// category's compiled schema. The not-in-document sentinel validates as null.
func (r *Registry) Validate(category string, fields map[string]packet.FieldValue) error {
	r.mu.RLock()
	compiled, ok := r.compiled[category]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for category %q", category)
	}
	plain := map[string]any{}
	for name, fv := range fields {
		if v, present := fv.Value(); present {
			plain[name] = v
		} else {
			plain[name] = nil
		}
	}
	if err := compiled.Validate(plain); err != nil {
		return fmt.Errorf("extraction does not match %s schema: %w", category, err)
	}
	return nil
}

// Effective resolves the schema that governs a document: the override's
// schema when a non-custom reclassification is in force, otherwise the
// classified category's schema. Custom overrides have no registered schema,
// so the second return is false and callers skip field filtering.
func (r *Registry) Effective(doc *packet.Document) (Schema, bool) {
	if doc.Override != nil {
		if doc.Override.IsCustom {
			return Schema{}, false
		}
		return r.Get(doc.Override.Category)
	}
	if doc.Classification == nil {
		return Schema{}, false
	}
	return r.Get(doc.Classification.Category)
}
