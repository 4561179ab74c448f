// Package pgvectorstore implements collab.VectorStore on the embeddings
// table. Vectors are stored as JSONB arrays keyed by item, one row per
// item, latest write wins.
package pgvectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
)

// Store persists embedding vectors in Postgres.
type Store struct {
	db *sqlx.DB
}

var _ collab.VectorStore = (*Store)(nil)

// NewStore creates a vector store over the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Upsert writes the vector for an item, replacing any previous one.
func (s *Store) Upsert(ctx context.Context, itemID string, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("upsert embedding for %s: empty vector", itemID)
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode vector for %s: %w", itemID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, vector, model, embedded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (item_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			model = EXCLUDED.model,
			embedded_at = now()`,
		itemID, raw, model)
	if err != nil {
		return fmt.Errorf("upsert embedding for %s: %w", itemID, err)
	}
	return nil
}

// Delete removes an item's vector. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("delete embedding for %s: %w", itemID, err)
	}
	return nil
}

// Get reads an item's stored embedding. Used by tests and diagnostics.
func (s *Store) Get(ctx context.Context, itemID string) (*models.Embedding, error) {
	var e models.Embedding
	if err := s.db.GetContext(ctx, &e, `
		SELECT item_id, vector, model, embedded_at
		FROM embeddings WHERE item_id = $1`, itemID); err != nil {
		return nil, fmt.Errorf("get embedding for %s: %w", itemID, err)
	}
	return &e, nil
}
