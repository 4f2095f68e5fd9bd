package vocabclient

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/streamintel/pkg/types"
)

// testPostgresDSN returns the DSN for integration tests, skipping the test
// if STREAMINTEL_TEST_POSTGRES_DSN is not set — mirroring the teacher's
// GLYPHOXA_TEST_POSTGRES_DSN-gated integration tests.
func testPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("STREAMINTEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STREAMINTEL_TEST_POSTGRES_DSN not set — skipping pgvector integration test")
	}
	return dsn
}

func TestSemanticIndex_UpsertAndSearch(t *testing.T) {
	dsn := testPostgresDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	idx := NewSemanticIndex(pool)

	entry := types.VocabularyEntry{
		Phrase:    "streamintel-test-phrase",
		Category:  types.VocabMeme,
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	if err := idx.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := idx.NearestNeighbours(ctx, []float32{0.1, 0.2, 0.3}, 1)
	if err != nil {
		t.Fatalf("NearestNeighbours: %v", err)
	}
	if len(results) == 0 || results[0].Phrase != entry.Phrase {
		t.Errorf("results = %+v, want first match %q", results, entry.Phrase)
	}

	_, _ = pool.Exec(ctx, `DELETE FROM vocabulary_embeddings WHERE phrase = $1`, entry.Phrase)
}

func TestSemanticIndex_UpsertRejectsEmptyEmbedding(t *testing.T) {
	idx := NewSemanticIndex(nil)
	err := idx.Upsert(context.Background(), types.VocabularyEntry{Phrase: "no-embedding"})
	if err == nil {
		t.Error("expected error for entry with no embedding")
	}
}
