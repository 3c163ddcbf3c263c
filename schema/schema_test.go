package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agents/kestrel/schema"
)

func TestObjectBuilder(t *testing.T) {
	raw := schema.Object(map[string]*schema.Property{
		"query": schema.String("Search query"),
		"limit": schema.Integer("Max results").Min(1).Max(100).Default(10),
		"tags":  schema.Array("Filter tags", schema.String("")),
		"exact": schema.Boolean("Exact match"),
		"score": schema.Number("Cutoff"),
		"mode":  schema.String("Mode").Enum("fast", "thorough"),
	}, "query")

	assert.Equal(t, "object", raw["type"])
	assert.Equal(t, []string{"query"}, raw["required"])

	props := raw["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "integer", limit["type"])
	assert.Equal(t, float64(1), limit["minimum"])
	assert.Equal(t, float64(100), limit["maximum"])
}

func TestCompileAndValidate(t *testing.T) {
	compiled, err := schema.Compile(schema.Object(map[string]*schema.Property{
		"query": schema.String("Search query"),
		"limit": schema.Integer("Max results").Min(1),
	}, "query"))
	require.NoError(t, err)

	assert.NoError(t, compiled.Validate(map[string]any{"query": "go", "limit": 5}))
	assert.NoError(t, compiled.Validate(map[string]any{"query": "go"}))

	err = compiled.Validate(map[string]any{"limit": 5})
	require.Error(t, err)
	var validation *schema.ValidationError
	assert.ErrorAs(t, err, &validation)

	assert.Error(t, compiled.Validate(map[string]any{"query": 42}))
	assert.Error(t, compiled.Validate(map[string]any{"query": "go", "limit": 0}))
}

func TestNilSchemaAcceptsAnything(t *testing.T) {
	compiled, err := schema.Compile(nil)
	require.NoError(t, err)
	assert.Nil(t, compiled)
	assert.NoError(t, compiled.Validate(map[string]any{"anything": true}))
}

func TestCompileRejectsMalformedSchema(t *testing.T) {
	_, err := schema.Compile(map[string]any{"type": 12345})
	assert.Error(t, err)
}

func TestMustCompilePanicsOnBadSchema(t *testing.T) {
	assert.Panics(t, func() {
		schema.MustCompile(map[string]any{"type": 12345})
	})
}

func TestEnumValidation(t *testing.T) {
	compiled, err := schema.Compile(schema.Object(map[string]*schema.Property{
		"mode": schema.String("Mode").Enum("fast", "thorough"),
	}, "mode"))
	require.NoError(t, err)

	assert.NoError(t, compiled.Validate(map[string]any{"mode": "fast"}))
	assert.Error(t, compiled.Validate(map[string]any{"mode": "sloppy"}))
}
