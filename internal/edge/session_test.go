package edge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// testBundlerConfig forces every non-text chunk to flush immediately and
// never coalesces on a timer, keeping these tests deterministic without
// depending on the bundler's latency-based flush path.
func testBundlerConfig() chunk.BundlerConfig {
	return chunk.BundlerConfig{
		Client:      chunk.FlushControl{},
		Persistence: chunk.FlushControl{},
	}
}

type fakeSink struct {
	mu     sync.Mutex
	chunks []chunk.PersistedChunk
}

func (f *fakeSink) Enqueue(c chunk.PersistedChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, c)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func TestSession_ForwardsChunksAndClosesOnTerminal(t *testing.T) {
	sink := &fakeSink{}
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: time.Hour}, testBundlerConfig(), sink)
	in := make(chan chunk.MergedChunk, 4)
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 0, Kind: chunk.KindText, Text: "hi"}}
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 1, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}, Final: true}
	close(in)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}

	var events []Event
	for e := range s.Run(context.Background(), req, in) {
		events = append(events, e)
	}

	require.Len(t, events, 2)
	require.Equal(t, "hi", events[0].Chunk.Text, "buffered text flushes as its own bundle first")
	require.False(t, events[0].Chunk.Kind.Terminal())
	require.True(t, events[1].Chunk.Kind.Terminal())
	require.Empty(t, events[1].Chunk.Text, "the terminal chunk passes through verbatim")
	require.True(t, events[1].Chunk.Final)
	require.True(t, s.IsSealed())

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond,
		"the persistence lane must receive the text bundle and the finalizing terminal chunk")
}

func TestSession_EmitsKeepaliveWhenIdle(t *testing.T) {
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: 10 * time.Millisecond}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk)

	var sawKeepalive bool
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	for e := range s.Run(ctx, req, in) {
		if e.Keepalive {
			sawKeepalive = true
		}
	}
	require.True(t, sawKeepalive)
}

func TestSession_IdleTimeoutEmitsErrorAndSeals(t *testing.T) {
	s := New(Config{IdleTimeout: 20 * time.Millisecond, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	var events []Event
	for e := range s.Run(context.Background(), req, in) {
		events = append(events, e)
	}

	require.Len(t, events, 1)
	require.Equal(t, chunk.KindError, events[0].Chunk.Kind)
	require.Equal(t, chunk.ErrTimeout, events[0].Chunk.ErrorCode)
	require.True(t, s.IsSealed())
}

func TestSession_ContextCancelEmitsCancelledError(t *testing.T) {
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk)
	ctx, cancel := context.WithCancel(context.Background())

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	done := make(chan []Event, 1)
	go func() {
		var events []Event
		for e := range s.Run(ctx, req, in) {
			events = append(events, e)
		}
		done <- events
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	events := <-done
	require.Len(t, events, 1)
	require.Equal(t, chunk.KindError, events[0].Chunk.Kind)
	require.Equal(t, chunk.ErrCancelled, events[0].Chunk.ErrorCode)
}

func TestSession_NoEventAfterSeal(t *testing.T) {
	s := New(Config{IdleTimeout: 10 * time.Millisecond, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	for range s.Run(context.Background(), req, in) {
	}
	require.True(t, s.IsSealed())
}

func TestSession_TotalTimeoutEmitsErrorAndSeals(t *testing.T) {
	s := New(Config{IdleTimeout: time.Hour, TotalTimeout: 20 * time.Millisecond, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	var events []Event
	for e := range s.Run(context.Background(), req, in) {
		events = append(events, e)
	}

	require.Len(t, events, 1)
	require.Equal(t, chunk.KindError, events[0].Chunk.Kind)
	require.Equal(t, chunk.ErrTimeout, events[0].Chunk.ErrorCode)
	require.True(t, s.IsSealed())
}

func TestSession_StatsReflectRun(t *testing.T) {
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk, 4)
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 0, Kind: chunk.KindText, Text: "hello"}}
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 1, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}, Final: true}
	close(in)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	for range s.Run(context.Background(), req, in) {
	}

	stats := s.Stats()
	require.Equal(t, 2, stats.ClientEvents, "one text bundle, one terminal")
	require.Equal(t, len("hello"), stats.TextBytes)
	require.False(t, stats.StartedAt.IsZero())
	require.Greater(t, stats.Duration, time.Duration(0))
}

func TestSession_PreservesPanelistAttribution(t *testing.T) {
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk, 4)
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 0, Kind: chunk.KindToolUse, ToolCall: &chunk.ToolCall{ID: "t1", Name: "lookup"}}, PanelistID: "p1", DisplayName: "Historian", OriginalSeq: 3}
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 1, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}, Final: true}
	close(in)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	var events []Event
	for e := range s.Run(context.Background(), req, in) {
		events = append(events, e)
	}

	require.Len(t, events, 2)
	require.Equal(t, "p1", events[0].Chunk.PanelistID)
	require.Equal(t, "Historian", events[0].Chunk.DisplayName)
	require.Equal(t, uint64(3), events[0].Chunk.OriginalSeq)
}

func TestSession_NilPersistenceSinkDoesNotBlockClientLane(t *testing.T) {
	s := New(Config{IdleTimeout: time.Second, KeepaliveInterval: time.Hour}, testBundlerConfig(), nil)
	in := make(chan chunk.MergedChunk, 2)
	in <- chunk.MergedChunk{DomainChunk: chunk.DomainChunk{Seq: 0, Kind: chunk.KindEnd, StopReason: chunk.StopEndTurn}, Final: true}
	close(in)

	req := chunk.StreamRequest{ThreadID: "t1", MessageID: "m1"}
	var events []Event
	for e := range s.Run(context.Background(), req, in) {
		events = append(events, e)
	}
	require.Len(t, events, 1)
}
