package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/curioworks/curio/pkg/models"
)

// ItemService is the per-item state repository. All reads order by
// item_id so stage plans are deterministic, and every write goes through
// an optimistic version check.
type ItemService struct {
	db *sqlx.DB
}

// NewItemService creates a new ItemService.
func NewItemService(db *sqlx.DB) *ItemService {
	return &ItemService{db: db}
}

// Get retrieves a single item.
func (s *ItemService) Get(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item, `SELECT * FROM items WHERE item_id = $1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %s: %w", itemID, err)
	}
	return &item, nil
}

// ListAll returns every item in item_id order.
func (s *ItemService) ListAll(ctx context.Context) ([]*models.Item, error) {
	items := []*models.Item{}
	err := s.db.SelectContext(ctx, &items, `SELECT * FROM items ORDER BY item_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// ListByFilter returns items matching the flag filter, in item_id order.
func (s *ItemService) ListByFilter(ctx context.Context, filter models.ItemFilter) ([]*models.Item, error) {
	where := []string{"TRUE"}
	args := []any{}
	flag := func(col string, v *bool) {
		if v != nil {
			args = append(args, *v)
			where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	flag("cached", filter.Cached)
	flag("media_done", filter.MediaDone)
	flag("categorized", filter.Categorized)
	flag("generated", filter.Generated)
	flag("db_synced", filter.DBSynced)
	flag("embedded", filter.Embedded)
	if filter.SubCategory != nil {
		args = append(args, *filter.SubCategory)
		where = append(where, fmt.Sprintf("sub_category = $%d", len(args)))
	}

	items := []*models.Item{}
	err := s.db.SelectContext(ctx, &items, fmt.Sprintf(
		"SELECT * FROM items WHERE %s ORDER BY item_id ASC",
		strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items by filter: %w", err)
	}
	return items, nil
}

// AddItems inserts newly discovered items, skipping IDs that already
// exist. Existing rows keep their flags and version; re-running discovery
// is idempotent. Returns the number of new rows.
func (s *ItemService) AddItems(ctx context.Context, items []*models.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO items (item_id, raw_payload, content_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT (item_id) DO NOTHING`,
			item.ItemID, item.RawPayload, item.ContentHash)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item %s: %w", item.ItemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit item discovery: %w", err)
	}
	return added, nil
}

// Update applies a patch under optimistic concurrency control. The write
// commits only if the stored version still equals ExpectedVersion, and
// every commit bumps the version. Losers get ErrItemVersionConflict.
func (s *ItemService) Update(ctx context.Context, upd models.ItemUpdate) (*models.Item, error) {
	if upd.Patch.IsZero() {
		return s.Get(ctx, upd.ItemID)
	}

	sets := []string{"version = version + 1", "updated_at = now()"}
	args := []any{upd.ItemID, upd.ExpectedVersion}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	p := upd.Patch
	if p.Cached != nil {
		add("cached", *p.Cached)
	}
	if p.MediaDone != nil {
		add("media_done", *p.MediaDone)
	}
	if p.Categorized != nil {
		add("categorized", *p.Categorized)
	}
	if p.Generated != nil {
		add("generated", *p.Generated)
	}
	if p.DBSynced != nil {
		add("db_synced", *p.DBSynced)
	}
	if p.Embedded != nil {
		add("embedded", *p.Embedded)
	}
	if p.RawPayload != nil {
		add("raw_payload", *p.RawPayload)
	}
	if p.MainCategory != nil {
		add("main_category", *p.MainCategory)
	}
	if p.SubCategory != nil {
		add("sub_category", *p.SubCategory)
	}
	if p.ShortName != nil {
		add("short_name", *p.ShortName)
	}
	if p.ContentHash != nil {
		add("content_hash", *p.ContentHash)
	}
	if p.MediaDescriptors != nil {
		add("media_descriptors", *p.MediaDescriptors)
	}
	if p.ArtifactPath != nil {
		add("artifact_path", *p.ArtifactPath)
	}
	if p.MediaPaths != nil {
		add("media_paths", *p.MediaPaths)
	}

	query := fmt.Sprintf(`
		UPDATE items SET %s
		WHERE item_id = $1 AND version = $2
		RETURNING *`, strings.Join(sets, ", "))

	var item models.Item
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&item)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update item %s: %w", upd.ItemID, err)
	}

	// Distinguish a missing item from a lost version race.
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM items WHERE item_id = $1)`, upd.ItemID); err != nil {
		return nil, fmt.Errorf("failed to inspect item %s: %w", upd.ItemID, err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrItemVersionConflict
}

// InvalidateFlags clears the given stage flags (and their dependents are
// the caller's concern) on every listed item, bumping versions.
func (s *ItemService) InvalidateFlags(ctx context.Context, itemIDs []string, flags []string) error {
	if len(itemIDs) == 0 || len(flags) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"cached": true, "media_done": true, "categorized": true,
		"generated": true, "db_synced": true, "embedded": true,
	}
	sets := []string{"version = version + 1", "updated_at = now()"}
	for _, f := range flags {
		if !allowed[f] {
			return NewValidationError("flags", "unknown stage flag: "+f)
		}
		sets = append(sets, f+" = FALSE")
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		"UPDATE items SET %s WHERE item_id IN (?)",
		strings.Join(sets, ", ")), itemIDs)
	if err != nil {
		return fmt.Errorf("failed to build flag invalidation query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to invalidate item flags: %w", err)
	}
	return nil
}
