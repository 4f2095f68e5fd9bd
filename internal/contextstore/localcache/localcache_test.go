package localcache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/internal/contextstore/localcache"
	"github.com/MrWong99/streamintel/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if STREAMINTEL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("STREAMINTEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STREAMINTEL_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *localcache.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS context_mirror"); err != nil {
		t.Fatalf("drop context_mirror: %v", err)
	}
	pool.Close()

	store, err := localcache.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMirror_InsertsRow(t *testing.T) {
	store := newTestStore(t)
	sentiment := types.SentimentPositive

	cx := contextclient.Context{
		Started:      time.Now().Add(-2 * time.Minute),
		Ended:        time.Now(),
		Session:      "session-2026-07-31",
		Transcript:   "hello chat",
		Duration:     120,
		Sentiment:    &sentiment,
		Topics:       []string{"gaming"},
		ChatVelocity: 12.5,
		Analysis:     map[string]any{"mood": "hype"},
	}

	if err := store.Mirror(context.Background(), cx); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
}

func TestMirrorAsync_DoesNotBlock(t *testing.T) {
	store := newTestStore(t)

	cx := contextclient.Context{
		Started:    time.Now().Add(-time.Minute),
		Ended:      time.Now(),
		Session:    "session-async",
		Transcript: "async mirror test",
	}

	done := make(chan struct{})
	go func() {
		store.MirrorAsync(cx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MirrorAsync blocked the caller")
	}
}
