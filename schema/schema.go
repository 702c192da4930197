// Package schema derives JSON schemas from Go types and validates decoded
// model output against them.
//
// Schemas are reflected with invopop/jsonschema and validated with
// santhosh-tekuri/jsonschema. Partial returns the variant used while a
// structured value is still streaming: every field optional, recursively.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
	invopop "github.com/invopop/jsonschema"
	"github.com/samber/lo"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceURL = "schema.json"

// Schema is an immutable JSON schema document.
type Schema struct {
	name string
	doc  map[string]any

	once     sync.Once
	compiled *validator.Schema
	err      error
}

// For reflects the schema of T. Fields without `omitempty` are required;
// descriptions come from `jsonschema:"description=..."` or
// `jsonschema_description` tags.
func For[T any]() (*Schema, error) {
	return ForType(reflect.TypeOf((*T)(nil)).Elem())
}

// ForType reflects the schema of t.
func ForType(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r := &invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t, err)
	}
	return &Schema{name: t.Name(), doc: doc}, nil
}

// FromMap wraps an existing schema document. The map is copied.
func FromMap(name string, doc map[string]any) *Schema {
	return &Schema{name: name, doc: deepCopy(doc)}
}

// Name returns the name of the reflected type or the name given to FromMap.
func (s *Schema) Name() string {
	return s.name
}

// Description returns the top-level description, if any.
func (s *Schema) Description() string {
	d, _ := s.doc["description"].(string)
	return d
}

// Map returns a copy of the schema document.
func (s *Schema) Map() map[string]any {
	return deepCopy(s.doc)
}

// MarshalJSON implements json.Marshaler.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.doc)
}

// ToolSchema converts the schema to the provider-neutral tool parameter shape.
func (s *Schema) ToolSchema() llm.ToolSchema {
	doc := s.Map()

	ts := llm.ToolSchema{Type: "object", Properties: map[string]any{}}
	if t, ok := doc["type"].(string); ok {
		ts.Type = t
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		ts.Properties = props
	}
	if req, ok := doc["required"].([]any); ok {
		ts.Required = lo.FilterMap(req, func(v any, _ int) (string, bool) {
			name, ok := v.(string)
			return name, ok
		})
	}

	extra := lo.OmitByKeys(doc, []string{"$schema", "$id", "type", "properties", "required", "title", "description"})
	if len(extra) > 0 {
		ts.ExtraFields = extra
	}
	return ts
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return s.ValidateValue(v)
}

// ValidateValue checks an already decoded JSON value. Numbers must be
// float64 or json.Number.
func (s *Schema) ValidateValue(v any) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	return compiled.Validate(v)
}

func (s *Schema) compile() (*validator.Schema, error) {
	s.once.Do(func() {
		raw, err := json.Marshal(s.doc)
		if err != nil {
			s.err = fmt.Errorf("marshal schema %s: %w", s.name, err)
			return
		}

		c := validator.NewCompiler()
		c.Draft = validator.Draft2020
		if err := c.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
			s.err = fmt.Errorf("load schema %s: %w", s.name, err)
			return
		}
		s.compiled, s.err = c.Compile(resourceURL)
		if s.err != nil {
			s.err = fmt.Errorf("compile schema %s: %w", s.name, s.err)
		}
	})
	return s.compiled, s.err
}

// Partial returns a copy of the schema in which no field is required at
// any depth.
func (s *Schema) Partial() *Schema {
	doc := s.Map()
	makePartial(doc)
	return &Schema{name: s.name, doc: doc}
}

func makePartial(node map[string]any) {
	delete(node, "required")

	for _, key := range []string{"properties", "$defs", "definitions", "patternProperties"} {
		if children, ok := node[key].(map[string]any); ok {
			for _, child := range children {
				if m, ok := child.(map[string]any); ok {
					makePartial(m)
				}
			}
		}
	}

	for _, key := range []string{"items", "additionalProperties", "not"} {
		if m, ok := node[key].(map[string]any); ok {
			makePartial(m)
		}
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf", "prefixItems"} {
		if list, ok := node[key].([]any); ok {
			for _, child := range list {
				if m, ok := child.(map[string]any); ok {
					makePartial(m)
				}
			}
		}
	}
}

func deepCopy(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		return lo.Map(t, func(item any, _ int) any { return copyValue(item) })
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
