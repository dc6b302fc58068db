package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config tunes the executor's concurrency and per-call timeout, mirroring
// the teacher's ToolExecConfig (Concurrency, PerToolTimeout).
type Config struct {
	Concurrency    int
	PerCallTimeout time.Duration
}

// DefaultConfig matches the teacher's DefaultToolExecConfig defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4, PerCallTimeout: 30 * time.Second}
}

// Executor runs chunk.ToolCall values against a Registry, producing
// chunk.ToolResult values. A single tool failure is reported as an
// IsError result, never as a fatal condition for the caller — per the
// spec's invariant that tool failures never terminate the stream.
type Executor struct {
	registry *Registry
	cfg      Config
}

// NewExecutor constructs an Executor, applying defaults for zero-value
// config fields.
func NewExecutor(registry *Registry, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = DefaultConfig().PerCallTimeout
	}
	return &Executor{registry: registry, cfg: cfg}
}

// ExecuteOne runs a single tool call synchronously and returns its
// paired result. ExecuteConcurrently runs each of its calls through it;
// the orchestrator does not call it directly.
func (e *Executor) ExecuteOne(ctx context.Context, call chunk.ToolCall) chunk.ToolResult {
	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		return chunk.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError:    true,
		}
	}

	if err := e.registry.Validate(call.Name, json.RawMessage(call.Arguments)); err != nil {
		return chunk.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("invalid arguments for %q: %v", call.Name, err),
			IsError:    true,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerCallTimeout)
	defer cancel()

	content, err := tool.Execute(callCtx, json.RawMessage(call.Arguments))
	if err != nil {
		msg := err.Error()
		if callCtx.Err() != nil {
			msg = fmt.Sprintf("tool %q timed out after %s", call.Name, e.cfg.PerCallTimeout)
		}
		return chunk.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}
	}

	return chunk.ToolResult{ToolCallID: call.ID, Content: content}
}

// ExecuteConcurrently runs every call in calls against the registry using
// a bounded worker pool (Config.Concurrency slots), preserving the
// input order in the returned results slice. The orchestrator uses it for
// every tool turn, whether the provider emitted one tool_use chunk or
// several — the teacher's semaphore-backed
// ExecuteConcurrently pattern, generalized to the chunk.ToolCall/
// chunk.ToolResult vocabulary.
func (e *Executor) ExecuteConcurrently(ctx context.Context, calls []chunk.ToolCall) []chunk.ToolResult {
	results := make([]chunk.ToolResult, len(calls))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call chunk.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = chunk.ToolResult{ToolCallID: call.ID, Content: ctx.Err().Error(), IsError: true}
				return
			}
			results[i] = e.ExecuteOne(ctx, call)
		}(i, call)
	}

	wg.Wait()
	return results
}
