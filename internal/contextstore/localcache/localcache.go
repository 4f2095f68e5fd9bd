// Package localcache mirrors sealed context windows into a local PostgreSQL
// table purely as a debugging/replay aid. It does not change persistence
// semantics: the Context HTTP endpoint remains the single source of truth
// (spec §1 Non-goals: "not a database"). A mirror failure is logged and
// never surfaces to the caller.
//
// Grounded on pkg/memory/postgres/store.go's connection-pool lifecycle and
// schema.go/session_store.go's plain-SQL insert style.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/streamintel/internal/contextclient"
)

const ddlContextMirror = `
CREATE TABLE IF NOT EXISTS context_mirror (
    id            BIGSERIAL    PRIMARY KEY,
    session       TEXT         NOT NULL,
    started       TIMESTAMPTZ  NOT NULL,
    ended         TIMESTAMPTZ  NOT NULL,
    transcript    TEXT         NOT NULL,
    duration      DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment     TEXT         NOT NULL DEFAULT '',
    topics        JSONB        NOT NULL DEFAULT '[]',
    chat_velocity DOUBLE PRECISION NOT NULL DEFAULT 0,
    analysis      JSONB        NOT NULL DEFAULT '{}',
    mirrored_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_context_mirror_session ON context_mirror (session);
CREATE INDEX IF NOT EXISTS idx_context_mirror_started ON context_mirror (started);
`

// Store is a local replay mirror for sealed context windows. Safe for
// concurrent use; all methods are safe to call even if the underlying pool
// has gone away (they return an error rather than panicking).
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, runs the mirror table migration, and returns a
// [Store]. Callers should add [Store.Close] to their shutdown chain.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("localcache: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("localcache: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlContextMirror); err != nil {
		pool.Close()
		return nil, fmt.Errorf("localcache: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Mirror inserts a copy of cx into the local replay table. Call this only
// after the primary Context HTTP POST has already succeeded.
func (s *Store) Mirror(ctx context.Context, cx contextclient.Context) error {
	var sentiment string
	if cx.Sentiment != nil {
		sentiment = string(*cx.Sentiment)
	}

	topics, err := json.Marshal(cx.Topics)
	if err != nil {
		return fmt.Errorf("localcache: marshal topics: %w", err)
	}
	analysis, err := json.Marshal(cx.Analysis)
	if err != nil {
		return fmt.Errorf("localcache: marshal analysis: %w", err)
	}

	const q = `
		INSERT INTO context_mirror
		    (session, started, ended, transcript, duration, sentiment, topics, chat_velocity, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, q,
		cx.Session, cx.Started, cx.Ended, cx.Transcript, cx.Duration,
		sentiment, topics, cx.ChatVelocity, analysis,
	)
	if err != nil {
		return fmt.Errorf("localcache: insert: %w", err)
	}
	return nil
}

// MirrorAsync calls Mirror in a background goroutine with a fresh,
// independently-timed-out context (so the caller's own context expiring or
// being cancelled can't abort the mirror write), logging and swallowing any
// failure. This is the form [internal/app] wires into the correlator's
// context-sealed callback (OnContextSealed) so a mirror failure never blocks
// or fails the correlator's primary persistence path.
func (s *Store) MirrorAsync(cx contextclient.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Mirror(ctx, cx); err != nil {
			slog.Warn("localcache: mirror failed", "session", cx.Session, "error", err)
		}
	}()
}
