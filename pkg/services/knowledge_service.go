package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/curioworks/curio/pkg/models"
)

// KnowledgeService stores the queryable rows db_sync materializes from
// generated artifacts. Upserts are idempotent per item.
type KnowledgeService struct {
	db *sqlx.DB
}

// NewKnowledgeService creates a new KnowledgeService.
func NewKnowledgeService(db *sqlx.DB) *KnowledgeService {
	return &KnowledgeService{db: db}
}

// Upsert writes or replaces an item's knowledge row.
func (s *KnowledgeService) Upsert(ctx context.Context, k *models.KnowledgeItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (item_id, title, main_category, sub_category, content_markdown, source_url, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (item_id) DO UPDATE SET
			title = EXCLUDED.title,
			main_category = EXCLUDED.main_category,
			sub_category = EXCLUDED.sub_category,
			content_markdown = EXCLUDED.content_markdown,
			source_url = EXCLUDED.source_url,
			synced_at = now()`,
		k.ItemID, k.Title, k.MainCategory, k.SubCategory, k.ContentMarkdown, k.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge item %s: %w", k.ItemID, err)
	}
	return nil
}

// Get retrieves one knowledge row.
func (s *KnowledgeService) Get(ctx context.Context, itemID string) (*models.KnowledgeItem, error) {
	var k models.KnowledgeItem
	err := s.db.GetContext(ctx, &k, `SELECT * FROM knowledge_items WHERE item_id = $1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get knowledge item %s: %w", itemID, err)
	}
	return &k, nil
}

// ListByCategory returns knowledge rows for a sub-category, in item order.
func (s *KnowledgeService) ListByCategory(ctx context.Context, subCategory string) ([]*models.KnowledgeItem, error) {
	rows := []*models.KnowledgeItem{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM knowledge_items
		WHERE sub_category = $1
		ORDER BY item_id ASC`, subCategory)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge items for %s: %w", subCategory, err)
	}
	return rows, nil
}
