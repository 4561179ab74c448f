package pipeline

import (
	"context"
	"log/slog"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
)

// ProgressFunc reports intra-stage progress. The worker wraps it with
// throttling; handlers call it freely, at least once per work unit.
type ProgressFunc func(processed, total, errorCount int, message string)

// ItemStore is the slice of the item repository handlers may use.
// Implemented by services.ItemService.
type ItemStore interface {
	ListAll(ctx context.Context) ([]*models.Item, error)
	ListByFilter(ctx context.Context, filter models.ItemFilter) ([]*models.Item, error)
	Get(ctx context.Context, itemID string) (*models.Item, error)
	Update(ctx context.Context, upd models.ItemUpdate) (*models.Item, error)
	AddItems(ctx context.Context, items []*models.Item) (int, error)
}

// KnowledgeStore is the db_sync target. Implemented by
// services.KnowledgeService.
type KnowledgeStore interface {
	Upsert(ctx context.Context, k *models.KnowledgeItem) error
	ListByCategory(ctx context.Context, subCategory string) ([]*models.KnowledgeItem, error)
}

// StageContext carries everything a handler may touch. Handlers reach
// state only through the stores and collaborators here; they never call
// each other.
type StageContext struct {
	TaskID string

	Logger  *slog.Logger
	TaskLog *progress.TaskLogger
	Emit    ProgressFunc

	Items     ItemStore
	Knowledge KnowledgeStore

	Directives  *Directives
	ProjectRoot string

	// EmbeddingModel is the identifier stored alongside vectors.
	EmbeddingModel string

	Model    collab.ModelClient
	Scraper  collab.Scraper
	Renderer collab.Renderer
	Vectors  collab.VectorStore
	Git      collab.GitPublisher

	// RetryLimit is how many extra attempts a transient per-item error
	// gets before counting toward error_count.
	RetryLimit int
}

// StageResult summarizes one stage execution.
type StageResult struct {
	ProcessedCount int
	TotalCount     int
	ErrorCount     int
	Summary        string
}

// Handler executes one pipeline stage.
//
// Contracts: idempotent per work unit; observe ctx between units; report
// progress through sc.Emit at least once per unit; persist item changes
// through sc.Items (version CAS) as they complete, never in one batch at
// the end.
type Handler interface {
	Descriptor() StageDescriptor
	// PlanDescription renders a one-line preview of what this stage will
	// do under the given plan, for operator display.
	PlanDescription(d *Directives, sp StagePlan) string
	Execute(ctx context.Context, sc *StageContext, items []*models.Item) (*StageResult, error)
}
