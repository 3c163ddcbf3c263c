// Package schema builds and validates JSON Schemas for tool parameters.
//
//	params := schema.Object(map[string]*schema.Property{
//	    "query": schema.String("Search query"),
//	    "limit": schema.Integer("Max results").Min(1).Max(100),
//	}, "query") // "query" is required
//
// The Registry compiles each tool's schema at registration time and
// validates call arguments against it before execution.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compiled pairs a raw schema map (for prompts and provider requests) with
// its compiled validator.
type Compiled struct {
	raw       map[string]any
	validator *jsonschema.Schema
}

// Raw returns the raw map representation of the schema.
func (c *Compiled) Raw() map[string]any {
	if c == nil {
		return nil
	}
	return c.raw
}

// Validate checks args against the schema. Returns nil when valid.
func (c *Compiled) Validate(args map[string]any) error {
	if c == nil || c.validator == nil {
		return nil
	}
	// jsonschema validates the generic JSON representation, so round-trip
	// through encoding/json to normalize numeric types.
	normalized, err := normalize(args)
	if err != nil {
		return fmt.Errorf("schema: normalize arguments: %w", err)
	}
	if err := c.validator.Validate(normalized); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError wraps a JSON Schema validation failure.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Compile compiles a raw schema map. A nil map compiles to a nil Compiled,
// which accepts any arguments.
func Compile(raw map[string]any) (*Compiled, error) {
	if raw == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	validator, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}

	return &Compiled{raw: raw, validator: validator}, nil
}

// MustCompile is like Compile but panics on error. Use for schemas defined
// at init time.
func MustCompile(raw map[string]any) *Compiled {
	c, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func normalize(args map[string]any) (any, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Object creates an object schema with the given properties. Property names
// passed as variadic arguments are marked required.
func Object(properties map[string]*Property, required ...string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, prop := range properties {
		props[name] = prop.build()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Property is a fluent builder for a single schema property.
type Property struct {
	fields map[string]any
}

func newProperty(typ, description string) *Property {
	fields := map[string]any{"type": typ}
	if description != "" {
		fields["description"] = description
	}
	return &Property{fields: fields}
}

// String creates a string property.
func String(description string) *Property { return newProperty("string", description) }

// Integer creates an integer property.
func Integer(description string) *Property { return newProperty("integer", description) }

// Number creates a number property.
func Number(description string) *Property { return newProperty("number", description) }

// Boolean creates a boolean property.
func Boolean(description string) *Property { return newProperty("boolean", description) }

// Array creates an array property whose items match the given element.
func Array(description string, items *Property) *Property {
	p := newProperty("array", description)
	if items != nil {
		p.fields["items"] = items.build()
	}
	return p
}

// Enum restricts the property to the given values.
func (p *Property) Enum(values ...any) *Property {
	p.fields["enum"] = values
	return p
}

// Min sets the minimum for numeric properties.
func (p *Property) Min(v float64) *Property {
	p.fields["minimum"] = v
	return p
}

// Max sets the maximum for numeric properties.
func (p *Property) Max(v float64) *Property {
	p.fields["maximum"] = v
	return p
}

// Default sets the default value.
func (p *Property) Default(v any) *Property {
	p.fields["default"] = v
	return p
}

func (p *Property) build() map[string]any {
	out := make(map[string]any, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}
