// Package sqlitestore is the primary PersistedChunk store, backed by
// modernc.org/sqlite (pure Go, no cgo) — the single-node deployment
// target for this library, matching the cgo-free texture the rest of
// this module carries.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/streamcore/roundtable/internal/persistence/store"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config tunes the underlying connection pool, using the same field
// names as pgstore.Config so the two store implementations read the
// same way operationally.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane single-writer defaults for an embedded
// sqlite file.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Hour}
}

// Store is a store.Store backed by a sqlite database file.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) a sqlite database at path. Use ":memory:" for
// an ephemeral, test-only store.
func Open(path string, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg = DefaultConfig()
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS persisted_chunks (
			thread_id  TEXT NOT NULL,
			message_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			payload    BLOB NOT NULL,
			finalized  INTEGER NOT NULL,
			written_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, message_id, seq)
		)
	`)
	return err
}

var _ store.Store = (*Store)(nil)

// Append implements store.Store. Once a (thread_id, message_id) pair has
// a finalized row, every further append for that pair is rejected as
// store.ErrDuplicate regardless of its seq — a stray write racing a
// finalize (e.g. a delayed overflow replay) must not silently resurrect
// an already-closed message.
func (s *Store) Append(ctx context.Context, c chunk.PersistedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var finalizedCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM persisted_chunks WHERE thread_id = ? AND message_id = ? AND finalized = 1
	`, c.ThreadID, c.MessageID).Scan(&finalizedCount); err != nil {
		return err
	}
	if finalizedCount > 0 {
		return store.ErrDuplicate
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO persisted_chunks (thread_id, message_id, seq, kind, payload, finalized, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ThreadID, c.MessageID, c.Seq, string(c.Kind), c.Payload, boolToInt(c.Finalized), c.WrittenAt.UnixNano()); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}

	return tx.Commit()
}

// Replay implements store.Store.
func (s *Store) Replay(ctx context.Context, threadID, messageID string) ([]chunk.PersistedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, message_id, seq, kind, payload, finalized, written_at
		FROM persisted_chunks
		WHERE thread_id = ? AND message_id = ?
		ORDER BY seq ASC
	`, threadID, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chunk.PersistedChunk
	for rows.Next() {
		var c chunk.PersistedChunk
		var kind string
		var finalized int
		var writtenAtNanos int64
		if err := rows.Scan(&c.ThreadID, &c.MessageID, &c.Seq, &kind, &c.Payload, &finalized, &writtenAtNanos); err != nil {
			return nil, err
		}
		c.Kind = chunk.Kind(kind)
		c.Finalized = finalized != 0
		c.WrittenAt = time.Unix(0, writtenAtNanos)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations with a message
	// containing "UNIQUE constraint failed" rather than a typed error.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
