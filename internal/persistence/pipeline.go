// Package persistence implements the Persistence Pipeline: a bounded
// queue and worker pool that durably writes chunk.PersistedChunk values,
// falling back to a day-rotated overflow log when the durable Store
// cannot keep up, and retrying transient write failures with a jittered
// exponential backoff scoped to this pipeline's own maxAttempts/
// backoffBase configuration (spec.md §6's persist.retry.* keys).
package persistence

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/roundtable/internal/bundler"
	"github.com/streamcore/roundtable/internal/persistence/store"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config tunes the pipeline's queue depth and worker count, matching
// spec.md §6's persist.queueCapacity configuration key.
type Config struct {
	QueueCapacity int
	Workers       int
	RetryConfig   RetryConfig
}

// DefaultConfig returns sane defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{QueueCapacity: 1024, Workers: 4, RetryConfig: DefaultRetryConfig()}
}

// Pipeline is fire-and-forget from a producer's perspective: Enqueue
// never blocks the caller, neither on the durable write nor on the
// bounded queue (a full queue spills to the overflow log instead).
type Pipeline struct {
	cfg      Config
	store    store.Store
	overflow *Overflow
	log      *slog.Logger

	queue chan chunk.PersistedChunk

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Pipeline writing to st, with overflow as its
// last-resort durable fallback. log may be nil.
func New(st store.Store, overflow *Overflow, cfg Config, log *slog.Logger) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		overflow: overflow,
		log:      log,
		queue:    make(chan chunk.PersistedChunk, cfg.QueueCapacity),
	}
}

// ReplayOverflow scans every overflow segment on disk and re-appends its
// records to the store, in segment (day) order. A store.ErrDuplicate is
// a successful no-op per the idempotent-replay contract, so re-running
// after a partial replay is safe. A segment is removed once every record
// in it has been committed; a segment that still has uncommitted records
// is kept for the next replay. Call this before Start so chunks stranded
// by a crash reach the store before new work does.
func (p *Pipeline) ReplayOverflow(ctx context.Context) error {
	entries, err := os.ReadDir(p.overflow.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		path := filepath.Join(p.overflow.dir, e.Name())

		records, corrupt, err := ReadFile(path)
		if err != nil {
			return err
		}
		if corrupt > 0 {
			p.log.Warn("persistence: overflow segment has corrupt records, skipping them",
				"segment", e.Name(), "corrupt", corrupt)
		}

		committed := true
		for _, c := range records {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.store.Append(ctx, c); err != nil && err != store.ErrDuplicate {
				p.log.Warn("persistence: overflow replay write failed, keeping segment",
					"segment", e.Name(), "thread_id", c.ThreadID, "seq", c.Seq, "error", err)
				committed = false
				break
			}
		}
		if committed {
			if err := os.Remove(path); err != nil {
				p.log.Warn("persistence: failed to remove replayed overflow segment",
					"segment", e.Name(), "error", err)
			}
		}
	}
	return nil
}

// Start launches the worker pool. Call Stop to drain and shut it down.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop signals workers to drain the queue and exit, then waits for them.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Enqueue submits c for durable persistence without ever blocking the
// producer: when the bounded queue has room the chunk is handed to the
// worker pool, otherwise it spills straight to the overflow log. Spilled
// chunks stay in the log until ReplayOverflow is called, which writes
// them directly to the store; the Pipeline runs no background replay and
// never moves overflow records back onto the queue.
func (p *Pipeline) Enqueue(c chunk.PersistedChunk) {
	select {
	case p.queue <- c:
	default:
		p.spill(c)
	}
}

// spill appends c to the overflow log, the durable fallback for both a
// saturated queue and an exhausted write retry.
func (p *Pipeline) spill(c chunk.PersistedChunk) {
	payload, err := encodePersistedChunk(c)
	if err != nil {
		p.log.Error("persistence: failed to encode chunk for overflow", "error", err)
		return
	}
	if err := p.overflow.Append(payload, time.Now()); err != nil {
		p.log.Error("persistence: overflow write failed, chunk lost", "error", err,
			"thread_id", c.ThreadID, "message_id", c.MessageID, "seq", c.Seq)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for c := range p.queue {
		p.writeOne(ctx, c)
	}
}

// writeOne retries a transient store failure with exponential backoff;
// if every attempt fails (or the store is down entirely) it falls back
// to the overflow log so the chunk is never dropped, per spec.md's
// at-least-once persistence guarantee.
func (p *Pipeline) writeOne(ctx context.Context, c chunk.PersistedChunk) {
	result := retryWrite(ctx, p.cfg.RetryConfig, func() error {
		err := p.store.Append(ctx, c)
		if err == store.ErrDuplicate {
			return nil
		}
		return err
	})

	if result.err == nil {
		return
	}

	p.log.Warn("persistence: store write failed, falling back to overflow log",
		"thread_id", c.ThreadID, "message_id", c.MessageID, "seq", c.Seq, "error", result.err)
	p.spill(c)
}

// ToPersistedChunk projects a persistence-lane bundler.Bundle into its
// durable form: a text bundle collapses into one row of bundled text
// (Seq taken from the first buffered chunk) rather than a write per raw
// token, and a passed-through non-text chunk becomes its own row with
// its own Seq. Finalized is true only for the stream's terminal chunk.
func ToPersistedChunk(threadID, messageID string, b bundler.Bundle) (chunk.PersistedChunk, error) {
	merged := b.Merge()

	payload, err := encodeDomainChunk(merged)
	if err != nil {
		return chunk.PersistedChunk{}, err
	}
	return chunk.PersistedChunk{
		ThreadID:  threadID,
		MessageID: messageID,
		Seq:       merged.Seq,
		Kind:      merged.Kind,
		Payload:   payload,
		Finalized: len(b.Chunks) > 0 && b.Chunks[len(b.Chunks)-1].Kind.Terminal(),
		WrittenAt: time.Now(),
	}, nil
}
