package vocabclient

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/streamintel/pkg/types"
)

// SemanticIndex does nearest-neighbour lookups against a local pgvector
// mirror of the community vocabulary table, for phrases the upstream
// keyword/text search misses (paraphrases, typos, semantic near-matches).
// It is optional, and the RAG orchestrator does not query it: its
// vocabulary enrichment uses [Client.SearchVocabulary] and
// [Client.GetPopular] only.
type SemanticIndex struct {
	pool *pgxpool.Pool
}

// NewSemanticIndex wraps an already-connected pool. Callers own the pool's
// lifecycle.
func NewSemanticIndex(pool *pgxpool.Pool) *SemanticIndex {
	return &SemanticIndex{pool: pool}
}

// Upsert stores or replaces the embedding for a vocabulary phrase, keyed by
// phrase text.
func (s *SemanticIndex) Upsert(ctx context.Context, entry types.VocabularyEntry) error {
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("vocabclient: semantic index: entry %q has no embedding", entry.Phrase)
	}
	const q = `
		INSERT INTO vocabulary_embeddings (phrase, category, definition, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phrase) DO UPDATE SET
		    category   = EXCLUDED.category,
		    definition = EXCLUDED.definition,
		    embedding  = EXCLUDED.embedding`

	vec := pgvector.NewVector(entry.Embedding)
	_, err := s.pool.Exec(ctx, q, entry.Phrase, string(entry.Category), entry.Definition, vec)
	if err != nil {
		return fmt.Errorf("vocabclient: semantic index: upsert: %w", err)
	}
	return nil
}

// NearestNeighbours returns the topK vocabulary entries whose embeddings are
// closest (cosine distance) to the supplied query embedding.
func (s *SemanticIndex) NearestNeighbours(ctx context.Context, embedding []float32, topK int) ([]types.VocabularyEntry, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT phrase, category, definition, embedding
		FROM   vocabulary_embeddings
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("vocabclient: semantic index: nearest_neighbours: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.VocabularyEntry, error) {
		var (
			entry      types.VocabularyEntry
			definition *string
			vec        pgvector.Vector
		)
		if err := row.Scan(&entry.Phrase, &entry.Category, &definition, &vec); err != nil {
			return types.VocabularyEntry{}, err
		}
		entry.Definition = definition
		entry.Embedding = vec.Slice()
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vocabclient: semantic index: scan rows: %w", err)
	}
	if results == nil {
		results = []types.VocabularyEntry{}
	}
	return results, nil
}
