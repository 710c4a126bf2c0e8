package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaViolation marks a record that does not conform to its schema
var ErrSchemaViolation = errors.New("record violates schema")

// Schema is a compiled JSON schema together with its source document
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// Compile compiles a JSON schema held as a generic map
func Compile(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, fmt.Errorf("compile schema: empty schema")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	// keep a JSON-normalized copy so yaml-decoded ints and the like are uniform
	var normalized map[string]any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}
	return &Schema{raw: normalized, compiled: compiled}, nil
}

// Validate checks data against the schema
func (s *Schema) Validate(data map[string]any) error {
	// round-trip so the validator only sees JSON-decoded value types
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: marshal record: %v", ErrSchemaViolation, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: unmarshal record: %v", ErrSchemaViolation, err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// Raw returns the schema document. Callers must not modify it.
func (s *Schema) Raw() map[string]any {
	return s.raw
}

// JSON renders the schema for inclusion in prompts
func (s *Schema) JSON() string {
	b, err := json.MarshalIndent(s.raw, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Relaxed compiles the relaxed form of the schema, see Relax
func (s *Schema) Relaxed() (*Schema, error) {
	return Compile(Relax(s.raw))
}
