// Package store defines the durable PersistedChunk store contract shared
// by the sqlitestore and pgstore implementations.
package store

import (
	"context"
	"errors"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// ErrDuplicate is returned by Append when (ThreadID, MessageID, Seq) has
// already been written — the idempotent-replay contract from spec.md §6
// (appendChunk → ok|dedup|error).
var ErrDuplicate = errors.New("store: duplicate chunk")

// Store durably persists PersistedChunk values, keyed by
// (ThreadID, MessageID, Seq) for idempotent replay after a crash or
// retry.
type Store interface {
	// Append writes c. If a chunk with the same (ThreadID, MessageID, Seq)
	// already exists, Append returns ErrDuplicate rather than an error —
	// callers treat this as a successful no-op, matching spec.md's
	// ok|dedup|error contract.
	Append(ctx context.Context, c chunk.PersistedChunk) error

	// Replay returns every persisted chunk for (threadID, messageID) in
	// Seq order, for reconciling a client that reconnects after a
	// disconnect (spec.md Open Question: "start fresh, reconcile from
	// persistence").
	Replay(ctx context.Context, threadID, messageID string) ([]chunk.PersistedChunk, error)

	// Close releases the store's underlying resources.
	Close() error
}
