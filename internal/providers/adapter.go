// Package providers adapts third-party LLM streaming APIs to the single
// chunk.DomainChunk vocabulary the rest of the core operates on.
package providers

import (
	"context"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Adapter is implemented once per upstream provider (Anthropic, OpenAI,
// Bedrock, ...). Stream must emit chunks with a monotonic Seq starting at
// 0, end with exactly one terminal chunk (KindEnd or KindError), and
// never emit after ctx is done without first emitting a terminal chunk
// with StopReason/ErrorCode reflecting the cancellation.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, req chunk.StreamRequest) (<-chan chunk.DomainChunk, error)
}

// KeyValidator is the separate, non-streaming credential check an
// adapter can expose. It reports only whether the configured credentials
// are usable — a transient provider failure (rate limit, outage) still
// counts as usable, since the key itself is not the problem.
type KeyValidator interface {
	ValidateKey(ctx context.Context) bool
}

// seqCounter is a tiny helper adapters use to stamp monotonic sequence
// numbers onto outgoing chunks without each adapter reimplementing the
// counter.
type seqCounter struct{ n uint64 }

func (c *seqCounter) next() uint64 {
	v := c.n
	c.n++
	return v
}
