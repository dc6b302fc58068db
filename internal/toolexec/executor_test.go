package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

type fakeTool struct {
	name   string
	schema json.RawMessage
	fn     func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake tool for tests" }
func (f *fakeTool) Schema() json.RawMessage { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

func echoTool(name string) *fakeTool {
	return &fakeTool{
		name:   name,
		schema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`),
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestExecutor_ExecuteOne_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))

	exec := NewExecutor(reg, DefaultConfig())
	result := exec.ExecuteOne(context.Background(), chunk.ToolCall{
		ID: "call-1", Name: "echo", Arguments: []byte(`{"x":"hi"}`),
	})

	require.False(t, result.IsError)
	require.Equal(t, "call-1", result.ToolCallID)
	require.JSONEq(t, `{"x":"hi"}`, result.Content)
}

func TestExecutor_ExecuteOne_UnknownTool(t *testing.T) {
	exec := NewExecutor(NewRegistry(), DefaultConfig())
	result := exec.ExecuteOne(context.Background(), chunk.ToolCall{ID: "call-1", Name: "missing"})
	require.True(t, result.IsError)
}

func TestExecutor_ExecuteOne_InvalidArguments(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))
	exec := NewExecutor(reg, DefaultConfig())

	result := exec.ExecuteOne(context.Background(), chunk.ToolCall{
		ID: "call-1", Name: "echo", Arguments: []byte(`{}`),
	})
	require.True(t, result.IsError)
}

func TestExecutor_ExecuteOne_ToolFailureNeverPanics(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name:   "boom",
		schema: json.RawMessage(`{}`),
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("boom")
		},
	}))
	exec := NewExecutor(reg, DefaultConfig())

	result := exec.ExecuteOne(context.Background(), chunk.ToolCall{ID: "c", Name: "boom"})
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "boom")
}

func TestExecutor_ExecuteOne_PerCallTimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{
		name:   "slow",
		schema: json.RawMessage(`{}`),
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))
	exec := NewExecutor(reg, Config{Concurrency: 1, PerCallTimeout: 10 * time.Millisecond})

	result := exec.ExecuteOne(context.Background(), chunk.ToolCall{ID: "c", Name: "slow"})
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "timed out")
}

func TestExecutor_ExecuteConcurrently_PreservesOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("echo")))
	exec := NewExecutor(reg, Config{Concurrency: 2, PerCallTimeout: time.Second})

	calls := []chunk.ToolCall{
		{ID: "1", Name: "echo", Arguments: []byte(`{"x":"a"}`)},
		{ID: "2", Name: "echo", Arguments: []byte(`{"x":"b"}`)},
		{ID: "3", Name: "echo", Arguments: []byte(`{"x":"c"}`)},
	}
	results := exec.ExecuteConcurrently(context.Background(), calls)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, calls[i].ID, r.ToolCallID)
		require.False(t, r.IsError)
	}
}
