package kestrel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agents/kestrel"
	"github.com/kestrel-agents/kestrel/schema"
)

func searchTool() kestrel.Tool {
	return kestrel.NewToolFunc("search", "Search the web",
		schema.Object(map[string]*schema.Property{
			"q": schema.String("Query"),
		}, "q"),
		func(_ context.Context, args map[string]any) (*kestrel.ToolResult, error) {
			return kestrel.TextResult("results for " + args["q"].(string)), nil
		})
}

func TestRegistryExecuteValidCall(t *testing.T) {
	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(searchTool(), kestrel.ToolOptions{ReadOnly: true}))

	result, err := r.Execute(context.Background(), "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "results for go", result.Output)
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
}

func TestRegistryRejectsInvalidArguments(t *testing.T) {
	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(searchTool(), kestrel.ToolOptions{ReadOnly: true}))

	// Missing required "q": the tool must never run.
	result, err := r.Execute(context.Background(), "search", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "invalid arguments")

	// Wrong type for "q".
	result, err = r.Execute(context.Background(), "search", map[string]any{"q": 42})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRegistryUnknownToolIsFailedResult(t *testing.T) {
	r := kestrel.NewRegistry()

	result, err := r.Execute(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, kestrel.ErrUnknownTool)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(searchTool(), kestrel.ToolOptions{}))

	err := r.Register(searchTool(), kestrel.ToolOptions{})
	assert.ErrorIs(t, err, kestrel.ErrToolAlreadyRegistered)
}

func TestRegistryMalformedSchemaFailsRegistration(t *testing.T) {
	bad := kestrel.NewToolFunc("bad", "broken schema",
		map[string]any{"type": 12345},
		func(context.Context, map[string]any) (*kestrel.ToolResult, error) {
			return kestrel.TextResult("never"), nil
		})

	r := kestrel.NewRegistry()
	assert.Error(t, r.Register(bad, kestrel.ToolOptions{}))
}

func TestRegistryToolErrorBecomesFailedResult(t *testing.T) {
	boom := errors.New("backend down")
	tool := kestrel.NewToolFunc("flaky", "always fails", nil,
		func(context.Context, map[string]any) (*kestrel.ToolResult, error) {
			return nil, boom
		})

	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(tool, kestrel.ToolOptions{}))

	result, err := r.Execute(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)
}

// asyncEcho is an AsyncTool returning its "v" argument on a channel.
type asyncEcho struct{}

func (asyncEcho) Name() string                    { return "async_echo" }
func (asyncEcho) Description() string             { return "echoes asynchronously" }
func (asyncEcho) ParameterSchema() map[string]any { return map[string]any{"type": "object"} }

func (asyncEcho) Call(ctx context.Context, args map[string]any) (*kestrel.ToolResult, error) {
	outcome := <-asyncEcho{}.CallAsync(ctx, args)
	return outcome.Result, outcome.Err
}

func (asyncEcho) CallAsync(_ context.Context, args map[string]any) <-chan kestrel.AsyncOutcome {
	ch := make(chan kestrel.AsyncOutcome, 1)
	go func() {
		defer close(ch)
		v, _ := args["v"].(string)
		ch <- kestrel.AsyncOutcome{Result: kestrel.TextResult(v)}
	}()
	return ch
}

func TestRegistryNormalizesAsyncTools(t *testing.T) {
	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(asyncEcho{}, kestrel.ToolOptions{ReadOnly: true}))

	result, err := r.Execute(context.Background(), "async_echo", map[string]any{"v": "hello"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Output)
}

func TestRegistryApprovalPolicy(t *testing.T) {
	r := kestrel.NewRegistry()
	require.NoError(t, r.Register(kestrel.NewToolFunc("read", "", nil, nilCall), kestrel.ToolOptions{ReadOnly: true}))
	require.NoError(t, r.Register(kestrel.NewToolFunc("write", "", nil, nilCall), kestrel.ToolOptions{}))
	require.NoError(t, r.Register(kestrel.NewToolFunc("sensitive_read", "", nil, nilCall),
		kestrel.ToolOptions{ReadOnly: true, RequiresApproval: true}))

	assert.False(t, r.RequiresApproval("read"))
	assert.True(t, r.RequiresApproval("write"))
	assert.True(t, r.RequiresApproval("sensitive_read"))
	assert.True(t, r.RequiresApproval("unknown"))

	assert.True(t, r.Cacheable("read"))
	assert.False(t, r.Cacheable("write"))
	assert.False(t, r.Cacheable("unknown"))
}

func nilCall(context.Context, map[string]any) (*kestrel.ToolResult, error) {
	return kestrel.TextResult(""), nil
}

func TestRegistrySchemasAreSorted(t *testing.T) {
	r := kestrel.NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mike"} {
		require.NoError(t, r.Register(kestrel.NewToolFunc(name, "d", nil, nilCall), kestrel.ToolOptions{}))
	}

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "mike", schemas[1].Name)
	assert.Equal(t, "zeta", schemas[2].Name)
}
