// Package bundler implements the Token Bundler: a dual-output buffer
// that coalesces a chunk.DomainChunk stream into latency/size-bounded
// bundles for two independent consumers — a lossy client lane and a
// lossless persistence lane — forcing a flush whenever a non-text chunk
// arrives so tool/usage/terminal chunks are never delayed behind a
// buffering window.
//
// The two-lane shape uses a non-blocking-send-plus-drop-counter pattern
// so a slow consumer never backs up the chunk stream.
package bundler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Bundle is a coalesced run of chunks flushed together onto one lane.
type Bundle struct {
	Chunks []chunk.DomainChunk
	Lane   Lane
}

// Lane identifies which output the bundle belongs to.
type Lane string

const (
	LaneClient      Lane = "client"
	LanePersistence Lane = "persistence"
)

// Bundler consumes a single chunk.DomainChunk stream and produces two
// independent Bundle streams.
type Bundler struct {
	cfg chunk.BundlerConfig

	client  chan Bundle
	persist chan Bundle

	dropped uint64

	closeOnce sync.Once
}

// New constructs a Bundler. Client and Persistence channel capacities are
// small and bounded deliberately — the client lane is allowed to drop
// stale bundles under backpressure, the persistence lane is never
// dropped and so must be drained promptly by its consumer.
func New(cfg chunk.BundlerConfig) *Bundler {
	return &Bundler{
		cfg:     cfg,
		client:  make(chan Bundle, 8),
		persist: make(chan Bundle, 64),
	}
}

// Client returns the client-facing, lossy bundle stream.
func (b *Bundler) Client() <-chan Bundle { return b.client }

// Persistence returns the persistence-facing, lossless bundle stream.
func (b *Bundler) Persistence() <-chan Bundle { return b.persist }

// DroppedCount returns how many client bundles were dropped under
// backpressure since construction.
func (b *Bundler) DroppedCount() uint64 { return atomic.LoadUint64(&b.dropped) }

// Run consumes in until it closes, flushing both lanes on their own
// thresholds. A non-text chunk (tool_use/tool_result/usage/end/error)
// forces any buffered text out of both lanes first and then passes
// through verbatim as its own bundle. Run closes both output channels
// before returning.
func (b *Bundler) Run(in <-chan chunk.DomainChunk) {
	defer close(b.client)
	defer close(b.persist)

	clientAcc := newAccumulator(b.cfg.Client)
	persistAcc := newAccumulator(b.cfg.Persistence)

	clientTimer := time.NewTimer(b.cfg.Client.MaxLatency)
	persistTimer := time.NewTimer(b.cfg.Persistence.MaxLatency)
	defer clientTimer.Stop()
	defer persistTimer.Stop()
	if b.cfg.Client.MaxLatency <= 0 {
		stopAndDrain(clientTimer)
	}
	if b.cfg.Persistence.MaxLatency <= 0 {
		stopAndDrain(persistTimer)
	}

	for {
		select {
		case c, ok := <-in:
			if !ok {
				b.flushPending(clientAcc, persistAcc)
				return
			}

			// A non-text chunk never joins an accumulator: any buffered
			// text flushes first as its own bundle, then the chunk passes
			// through verbatim as a second bundle, keeping its own Seq and
			// empty Text — no text bundle ever spans a tool-use or
			// terminal boundary.
			if forceFlushFor(c) {
				b.flushPending(clientAcc, persistAcc)
				b.sendClient(Bundle{Chunks: []chunk.DomainChunk{c}})
				b.sendPersist(Bundle{Chunks: []chunk.DomainChunk{c}})
				resetTimer(clientTimer, b.cfg.Client.MaxLatency)
				resetTimer(persistTimer, b.cfg.Persistence.MaxLatency)
				if c.Kind.Terminal() {
					return
				}
				continue
			}

			clientAcc.add(c)
			persistAcc.add(c)

			if clientAcc.full() {
				b.sendClient(clientAcc.drain())
				resetTimer(clientTimer, b.cfg.Client.MaxLatency)
			}
			if persistAcc.full() {
				b.sendPersist(persistAcc.drain())
				resetTimer(persistTimer, b.cfg.Persistence.MaxLatency)
			}

		case <-clientTimer.C:
			if bundle, ok := clientAcc.flushOnTimeout(); ok {
				b.sendClient(bundle)
			}
			resetTimer(clientTimer, b.cfg.Client.MaxLatency)

		case <-persistTimer.C:
			if bundle, ok := persistAcc.flushOnTimeout(); ok {
				b.sendPersist(bundle)
			}
			resetTimer(persistTimer, b.cfg.Persistence.MaxLatency)
		}
	}
}

// flushPending drains whatever text both accumulators hold, used before
// a forcing chunk passes through and when the input closes.
func (b *Bundler) flushPending(clientAcc, persistAcc *accumulator) {
	if bundle, ok := clientAcc.flushOnTimeout(); ok {
		b.sendClient(bundle)
	}
	if bundle, ok := persistAcc.flushOnTimeout(); ok {
		b.sendPersist(bundle)
	}
}

// sendClient is a non-blocking send when Client.DropStale is set: under
// backpressure the bundle is dropped rather than stalling the producer,
// UNLESS it contains a non-text (non-droppable) chunk, in which case it
// blocks — the bundler never drops a tool/usage/terminal chunk. With
// DropStale unset every send blocks.
func (b *Bundler) sendClient(bundle Bundle) {
	if len(bundle.Chunks) == 0 {
		return
	}
	bundle.Lane = LaneClient
	if bundleMustNotDrop(bundle) || !b.cfg.Client.DropStale {
		b.client <- bundle
		return
	}
	select {
	case b.client <- bundle:
	default:
		atomic.AddUint64(&b.dropped, 1)
	}
}

// sendPersist always blocks: the persistence lane is lossless by
// contract.
func (b *Bundler) sendPersist(bundle Bundle) {
	if len(bundle.Chunks) == 0 {
		return
	}
	bundle.Lane = LanePersistence
	b.persist <- bundle
}

func bundleMustNotDrop(b Bundle) bool {
	for _, c := range b.Chunks {
		if forceFlushFor(c) {
			return true
		}
	}
	return false
}

// forceFlushFor reports whether c must trigger an immediate flush rather
// than sit in an accumulator waiting for a threshold — every kind except
// plain text/thinking deltas, matching spec.md's "non-text chunks force a
// flush" rule.
func forceFlushFor(c chunk.DomainChunk) bool {
	switch c.Kind {
	case chunk.KindText, chunk.KindThinking:
		return false
	default:
		return true
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if d <= 0 {
		return
	}
	stopAndDrain(t)
	t.Reset(d)
}

func stopAndDrain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
