package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/covenantql/covenant/internal/storage"
)

// VectorSchema creates the contract embeddings table and its cosine index.
// Requires the pgvector extension.
const VectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS contract_embeddings (
	contract_id TEXT PRIMARY KEY REFERENCES contracts(id) ON DELETE CASCADE,
	embedding   vector NOT NULL,
	model       TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_contract_embeddings_cosine'
  ) THEN
    EXECUTE 'CREATE INDEX idx_contract_embeddings_cosine ON contract_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
  END IF;
END $$;
`

// VectorIndex implements storage.VectorIndex using pgvector cosine
// distance. The search is accelerated by an ivfflat index once the table
// is non-empty.
type VectorIndex struct {
	store *Store
}

// Compile-time assertion.
var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a vector index sharing the store's connection
// pool and ensures the embeddings schema exists.
func NewVectorIndex(store *Store) (*VectorIndex, error) {
	if _, err := store.db.Exec(VectorSchema); err != nil {
		return nil, fmt.Errorf("postgres: failed to create vector schema: %w", err)
	}
	return &VectorIndex{store: store}, nil
}

// Search returns the topK nearest contracts by cosine distance. Scores are
// reported as similarity (1 - distance), higher is closer.
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int) ([]storage.VectorHit, float64, error) {
	if len(embedding) == 0 {
		return nil, 0, fmt.Errorf("%w: embedding is required", storage.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	vec := pgvector.NewVector(embedding)
	rows, err := v.store.db.QueryContext(ctx, `
		SELECT contract_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM contract_embeddings
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vec, topK)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.VectorHit
	for rows.Next() {
		var hit storage.VectorHit
		if err := rows.Scan(&hit.DocID, &hit.Score); err != nil {
			return nil, 0, fmt.Errorf("postgres: vector search scan: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// RU model: vector search pays a fixed index probe plus per-hit read.
	ru := 2.5 + 0.5*float64(len(hits))
	return hits, ru, nil
}

// StoreEmbedding upserts one contract embedding. Used by offline indexing
// jobs, never on the query path.
func (v *VectorIndex) StoreEmbedding(ctx context.Context, contractID string, embedding []float32, model string) error {
	if contractID == "" || len(embedding) == 0 {
		return fmt.Errorf("%w: contract ID and embedding are required", storage.ErrInvalidInput)
	}

	_, err := v.store.db.ExecContext(ctx, `
		INSERT INTO contract_embeddings (contract_id, embedding, model, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (contract_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			updated_at = now()
	`, contractID, pgvector.NewVector(embedding), model)
	if err != nil {
		return fmt.Errorf("postgres: store embedding %s: %w", contractID, err)
	}
	return nil
}
