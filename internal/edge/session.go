// Package edge implements the Edge Session: the per-client lifecycle
// that wires a merged chunk stream through a Token Bundler, drives the
// bundler's client lane to the caller and its persistence lane into a
// durable sink, enforces an idle timeout, propagates cancellation, and
// emits periodic keepalive events so an intermediary proxy never times
// out an otherwise-idle connection.
//
// The ticker + TTL + "sealed" terminal-state shape is grounded in the
// teacher's internal/typing/controller.go TypingController, generalized
// from a chat-typing-indicator refresh loop into a generic SSE keepalive
// heartbeat: once the session observes its terminal chunk it seals, and
// no further keepalive ever fires after that point.
package edge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamcore/roundtable/internal/bundler"
	"github.com/streamcore/roundtable/internal/persistence"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config tunes a Session's idle and total timeouts and its keepalive
// interval, matching spec.md §6's stream.idleTimeout and
// stream.totalTimeout configuration keys.
type Config struct {
	IdleTimeout       time.Duration
	TotalTimeout      time.Duration
	KeepaliveInterval time.Duration
}

// DefaultConfig mirrors the teacher typing controller's default cadence
// (6s refresh) scaled up for a keepalive rather than a typing indicator,
// plus a generous idle timeout and an absolute per-request ceiling.
func DefaultConfig() Config {
	return Config{IdleTimeout: 2 * time.Minute, TotalTimeout: 10 * time.Minute, KeepaliveInterval: 15 * time.Second}
}

// Event is what a Session emits to its client-facing consumer: either a
// real chunk or a synthetic keepalive with no chunk payload.
type Event struct {
	Chunk     *chunk.MergedChunk
	Keepalive bool
}

// PersistenceSink is what a Session drains its bundler's persistence
// lane into. *persistence.Pipeline satisfies this directly.
type PersistenceSink interface {
	Enqueue(chunk.PersistedChunk)
}

// Session wraps one merged chunk stream with a Token Bundler, idle-
// timeout cancellation, and periodic keepalives. It is "sealed" after
// its terminal chunk (or after ctx cancellation) — no Event is ever
// emitted after that point, mirroring TypingController's sealed/
// cleanupLocked guarantee.
type Session struct {
	cfg        Config
	bundlerCfg chunk.BundlerConfig
	persist    PersistenceSink

	mu     sync.Mutex
	sealed bool
	stats  RunStats
}

// RunStats summarizes what a Session did over its lifetime, for the
// observability hooks that record per-request outcomes. It is complete
// only once the session has sealed.
type RunStats struct {
	StartedAt      time.Time
	Duration       time.Duration
	ClientEvents   int
	TextBytes      int
	ToolCalls      int
	Keepalives     int
	DroppedBundles uint64
}

// New constructs a Session. persist may be nil, in which case the
// bundler's persistence lane is drained and discarded rather than
// written anywhere — useful for tests that only care about the client
// lane.
func New(cfg Config, bundlerCfg chunk.BundlerConfig, persist PersistenceSink) *Session {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = def.TotalTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	return &Session{cfg: cfg, bundlerCfg: bundlerCfg, persist: persist}
}

// chunkAttribution is the Fair-Merger attribution a MergedChunk carried
// before its DomainChunk was fed into the bundler, keyed by the Seq it
// carried on the merged stream (preserved unchanged through the
// bundler's accumulator) so it can be reattached to the bundle the
// bundler eventually emits for it.
type chunkAttribution struct {
	panelistID  string
	displayName string
	originalSeq uint64
	final       bool
}

// Run opens req's domain stream (already merged/fan-in'd into in by the
// orchestrator and, for a roundtable request, the Fair Merger), wires it
// through a Token Bundler, and drives the bundler's client lane onto the
// returned Event channel while draining its persistence lane into the
// Session's PersistenceSink. The returned channel also carries a
// keepalive whenever no real chunk has been emitted for KeepaliveInterval. It
// closes exactly once, right after the terminal Event (or after ctx is
// done without one, in which case a synthetic cancelled error chunk is
// the last Event emitted).
func (s *Session) Run(ctx context.Context, req chunk.StreamRequest, in <-chan chunk.MergedChunk) <-chan Event {
	out := make(chan Event, 8)

	// Every assistant message needs its own persistence key; a caller
	// that did not supply one gets a fresh ID rather than colliding on
	// the empty string.
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	go func() {
		defer close(out)

		started := time.Now()
		bndl := bundler.New(s.bundlerCfg)
		defer func() {
			s.finish(started, bndl.DroppedCount())
		}()
		domainIn := make(chan chunk.DomainChunk, 32)

		var attrMu sync.Mutex
		attrs := make(map[uint64]chunkAttribution)

		go bndl.Run(domainIn)
		go s.drainPersistence(req, bndl.Persistence())

		var feedClosed bool
		closeFeed := func() {
			if !feedClosed {
				close(domainIn)
				feedClosed = true
			}
		}

		idle := time.NewTimer(s.cfg.IdleTimeout)
		defer idle.Stop()
		total := time.NewTimer(s.cfg.TotalTimeout)
		defer total.Stop()
		keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-ctx.Done():
				closeFeed()
				s.emit(out, Event{Chunk: &chunk.MergedChunk{DomainChunk: chunk.DomainChunk{
					Kind: chunk.KindError, ErrorCode: chunk.ErrCancelled, ErrorMsg: "session cancelled", Time: time.Now(),
				}, Final: true}})
				return

			case <-idle.C:
				closeFeed()
				s.emit(out, Event{Chunk: &chunk.MergedChunk{DomainChunk: chunk.DomainChunk{
					Kind: chunk.KindError, ErrorCode: chunk.ErrTimeout, ErrorMsg: "session idle timeout", Time: time.Now(),
				}, Final: true}})
				return

			case <-total.C:
				closeFeed()
				s.emit(out, Event{Chunk: &chunk.MergedChunk{DomainChunk: chunk.DomainChunk{
					Kind: chunk.KindError, ErrorCode: chunk.ErrTimeout, ErrorMsg: "session total timeout", Time: time.Now(),
				}, Final: true}})
				return

			case <-keepalive.C:
				s.emit(out, Event{Keepalive: true})

			case c, ok := <-in:
				if !ok {
					closeFeed()
					in = nil
					continue
				}
				resetTimer(idle, s.cfg.IdleTimeout)
				attrMu.Lock()
				attrs[c.Seq] = chunkAttribution{panelistID: c.PanelistID, displayName: c.DisplayName, originalSeq: c.OriginalSeq, final: c.Final}
				attrMu.Unlock()
				domainIn <- c.DomainChunk

			case b, ok := <-bndl.Client():
				if !ok {
					return
				}
				ev, final := s.toClientEvent(b, &attrMu, attrs)
				s.emit(out, ev)
				if final {
					return
				}
				keepalive.Reset(s.cfg.KeepaliveInterval)
			}
		}
	}()

	return out
}

// toClientEvent collapses a client-lane Bundle back into a MergedChunk,
// reattaching whichever panelist/Final attribution was recorded for the
// bundle's last chunk — for a passed-through non-text chunk the bundle
// holds exactly that chunk, for a text bundle the last buffered delta. A
// text bundle holds chunks from more than one panelist only when a
// roundtable's contributions interleave faster than either lane's
// threshold; in that case the bundle's attribution is that of its last
// chunk, an accepted approximation documented in DESIGN.md.
func (s *Session) toClientEvent(b bundler.Bundle, mu *sync.Mutex, attrs map[uint64]chunkAttribution) (Event, bool) {
	if len(b.Chunks) == 0 {
		return Event{}, false
	}
	last := b.Chunks[len(b.Chunks)-1]

	mu.Lock()
	a := attrs[last.Seq]
	delete(attrs, last.Seq)
	mu.Unlock()

	merged := chunk.MergedChunk{
		DomainChunk: b.Merge(),
		PanelistID:  a.panelistID,
		DisplayName: a.displayName,
		OriginalSeq: a.originalSeq,
		Final:       a.final,
	}
	return Event{Chunk: &merged}, merged.Final || (merged.PanelistID == "" && merged.Kind.Terminal())
}

// drainPersistence reads every persistence-lane bundle to completion,
// regardless of whether a sink was configured, so the bundler's
// lossless lane is never left blocked on an unread channel.
func (s *Session) drainPersistence(req chunk.StreamRequest, bundles <-chan bundler.Bundle) {
	for b := range bundles {
		if s.persist == nil {
			continue
		}
		pc, err := persistence.ToPersistedChunk(req.ThreadID, req.MessageID, b)
		if err != nil {
			continue
		}
		s.persist.Enqueue(pc)
	}
}

func (s *Session) emit(out chan<- Event, e Event) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	if e.Keepalive {
		s.stats.Keepalives++
	} else if e.Chunk != nil {
		s.stats.ClientEvents++
		s.stats.TextBytes += len(e.Chunk.Text)
		if e.Chunk.Kind == chunk.KindToolUse {
			s.stats.ToolCalls++
		}
	}
	s.mu.Unlock()
	out <- e
}

// finish seals the session and freezes its RunStats.
func (s *Session) finish(started time.Time, droppedBundles uint64) {
	s.mu.Lock()
	s.sealed = true
	s.stats.StartedAt = started
	s.stats.Duration = time.Since(started)
	s.stats.DroppedBundles = droppedBundles
	s.mu.Unlock()
}

// IsSealed reports whether the session has emitted its terminal event.
func (s *Session) IsSealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Stats returns what the session recorded about its own run. The counts
// are live while the session is running and final once IsSealed reports
// true.
func (s *Session) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
