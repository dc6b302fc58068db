// Package pgstore is the scaled-deployment alternative PersistedChunk
// store, backed by Postgres (or CockroachDB's Postgres wire protocol) via
// github.com/lib/pq.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamcore/roundtable/internal/persistence/store"
	"github.com/streamcore/roundtable/pkg/chunk"
)

// Config tunes the connection pool.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane pool settings for a single store instance.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Store is a store.Store backed by Postgres/CockroachDB.
type Store struct {
	db *sql.DB
}

// OpenFromDSN opens a connection pool against dsn and ensures the
// persisted_chunks table exists.
func OpenFromDSN(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg = DefaultConfig()
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

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
			seq        BIGINT NOT NULL,
			kind       TEXT NOT NULL,
			payload    BYTEA NOT NULL,
			finalized  BOOLEAN NOT NULL,
			written_at TIMESTAMPTZ NOT NULL,
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
// an already-closed message. pg_advisory_xact_lock serializes the
// check-then-insert per message for the lifetime of the transaction, so
// two concurrent workers racing to append to the same message can't both
// pass the finalized check before either commits.
func (s *Store) Append(ctx context.Context, c chunk.PersistedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lockKey := c.ThreadID + "\x00" + c.MessageID
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return err
	}

	var finalizedCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM persisted_chunks WHERE thread_id = $1 AND message_id = $2 AND finalized
	`, c.ThreadID, c.MessageID).Scan(&finalizedCount); err != nil {
		return err
	}
	if finalizedCount > 0 {
		return store.ErrDuplicate
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO persisted_chunks (thread_id, message_id, seq, kind, payload, finalized, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ThreadID, c.MessageID, c.Seq, string(c.Kind), c.Payload, c.Finalized, c.WrittenAt); err != nil {
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
		WHERE thread_id = $1 AND message_id = $2
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
		if err := rows.Scan(&c.ThreadID, &c.MessageID, &c.Seq, &kind, &c.Payload, &c.Finalized, &c.WrittenAt); err != nil {
			return nil, err
		}
		c.Kind = chunk.Kind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq's *pq.Error carries Code "23505" for unique_violation; avoid
	// importing the driver's error type here and match on the standard
	// message text it wraps, keeping this store usable the same way
	// against any Postgres-wire-compatible backend.
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
