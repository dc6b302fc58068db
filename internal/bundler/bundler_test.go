package bundler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

func collectClient(b *Bundler, n int, timeout time.Duration) []Bundle {
	var out []Bundle
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case bundle, ok := <-b.Client():
			if !ok {
				return out
			}
			out = append(out, bundle)
		case <-deadline:
			return out
		}
	}
	return out
}

func drainPersist(b *Bundler) []Bundle {
	var out []Bundle
	for bundle := range b.Persistence() {
		out = append(out, bundle)
	}
	return out
}

func TestBundler_FlushesOnTokenThreshold(t *testing.T) {
	cfg := chunk.BundlerConfig{
		Client:      chunk.FlushControl{MaxTokens: 2, MaxLatency: time.Hour},
		Persistence: chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
	}
	b := New(cfg)
	in := make(chan chunk.DomainChunk, 8)
	go b.Run(in)

	in <- chunk.DomainChunk{Kind: chunk.KindText, Text: "hello"}
	in <- chunk.DomainChunk{Kind: chunk.KindText, Text: "world"}
	in <- chunk.DomainChunk{Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}
	close(in)

	bundles := collectClient(b, 2, time.Second)
	require.GreaterOrEqual(t, len(bundles), 1)

	persisted := drainPersist(b)
	require.NotEmpty(t, persisted)
	last := persisted[len(persisted)-1]
	require.Equal(t, chunk.KindEnd, last.Chunks[len(last.Chunks)-1].Kind)
}

func TestBundler_NonTextChunkForcesFlush(t *testing.T) {
	cfg := chunk.BundlerConfig{
		Client:      chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
		Persistence: chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
	}
	b := New(cfg)
	in := make(chan chunk.DomainChunk, 8)
	go b.Run(in)

	in <- chunk.DomainChunk{Seq: 0, Kind: chunk.KindText, Text: "partial"}
	in <- chunk.DomainChunk{Seq: 1, Kind: chunk.KindToolUse, ToolCall: &chunk.ToolCall{ID: "c1", Name: "x"}}

	// The buffered text flushes as its own bundle; the tool_use follows
	// verbatim in a second bundle and never shares one with text.
	bundles := collectClient(b, 2, time.Second)
	require.Len(t, bundles, 2)
	require.Equal(t, chunk.KindText, bundles[0].Chunks[0].Kind)
	require.Equal(t, "partial", bundles[0].Merge().Text)
	require.Len(t, bundles[1].Chunks, 1)
	require.Equal(t, chunk.KindToolUse, bundles[1].Chunks[0].Kind)
	require.Equal(t, uint64(1), bundles[1].Chunks[0].Seq)

	in <- chunk.DomainChunk{Seq: 2, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}
	close(in)
	drainPersist(b)
}

func TestBundler_NoTextBundleSpansToolUseBoundary(t *testing.T) {
	cfg := chunk.BundlerConfig{
		Client:      chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
		Persistence: chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
	}
	b := New(cfg)
	in := make(chan chunk.DomainChunk, 8)
	go b.Run(in)

	in <- chunk.DomainChunk{Seq: 0, Kind: chunk.KindText, Text: "Looking up"}
	in <- chunk.DomainChunk{Seq: 1, Kind: chunk.KindToolUse, ToolCall: &chunk.ToolCall{ID: "t1", Name: "file_read"}}
	in <- chunk.DomainChunk{Seq: 2, Kind: chunk.KindToolResult, ToolResult: &chunk.ToolResult{ToolCallID: "t1", Content: "CONTENTS"}}
	in <- chunk.DomainChunk{Seq: 3, Kind: chunk.KindText, Text: " done"}
	in <- chunk.DomainChunk{Seq: 4, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}
	close(in)

	var kinds []chunk.Kind
	var texts []string
	for bundle := range b.Persistence() {
		merged := bundle.Merge()
		kinds = append(kinds, merged.Kind)
		texts = append(texts, merged.Text)
	}
	require.Equal(t, []chunk.Kind{
		chunk.KindText, chunk.KindToolUse, chunk.KindToolResult, chunk.KindText, chunk.KindEnd,
	}, kinds)
	require.Equal(t, []string{"Looking up", "", "", " done", ""}, texts)

	for range b.Client() {
	}
}

func TestBundler_TerminalChunkAlwaysDelivered(t *testing.T) {
	cfg := chunk.BundlerConfig{
		Client:      chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour, DropStale: true},
		Persistence: chunk.FlushControl{MaxTokens: 1000, MaxLatency: time.Hour},
	}
	b := New(cfg)
	in := make(chan chunk.DomainChunk, 8)
	go b.Run(in)

	in <- chunk.DomainChunk{Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}
	close(in)

	var gotEnd bool
	for bundle := range b.Client() {
		for _, c := range bundle.Chunks {
			if c.Kind == chunk.KindEnd {
				gotEnd = true
			}
		}
	}
	require.True(t, gotEnd)
	drainPersist(b)
}

func TestBundler_FlushesOnLatencyTimeout(t *testing.T) {
	cfg := chunk.BundlerConfig{
		Client:      chunk.FlushControl{MaxTokens: 1000, MaxLatency: 20 * time.Millisecond},
		Persistence: chunk.FlushControl{MaxTokens: 1000, MaxLatency: 20 * time.Millisecond},
	}
	b := New(cfg)
	in := make(chan chunk.DomainChunk, 8)
	go b.Run(in)

	in <- chunk.DomainChunk{Kind: chunk.KindText, Text: "a"}

	bundles := collectClient(b, 1, time.Second)
	require.Len(t, bundles, 1)

	in <- chunk.DomainChunk{Kind: chunk.KindEnd}
	close(in)
	drainPersist(b)
}
