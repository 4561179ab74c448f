package handlers

import (
	"context"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// fetchHandler discovers bookmarks at the source and registers new items.
// Existing items are left untouched, so discovery is idempotent.
type fetchHandler struct{}

func (fetchHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageFetch)
}

func (fetchHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	if sp.Skipped {
		return "fetch: skipped"
	}
	return "fetch: discover bookmarks at the source"
}

func (fetchHandler) Execute(ctx context.Context, sc *pipeline.StageContext, _ []*models.Item) (*pipeline.StageResult, error) {
	discovered, err := sc.Scraper.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover bookmarks: %w", err)
	}

	candidates := make([]*models.Item, 0, len(discovered))
	for _, d := range discovered {
		hash := d.ContentHash
		candidates = append(candidates, &models.Item{
			ItemID:      d.ItemID,
			RawPayload:  models.JSONText(d.RawPayload),
			ContentHash: &hash,
		})
	}

	added, err := sc.Items.AddItems(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("register discovered items: %w", err)
	}

	summary := fmt.Sprintf("discovered %d bookmarks, %d new", len(discovered), added)
	sc.TaskLog.Info(ctx, summary)
	sc.Emit(1, 1, 0, summary)
	return &pipeline.StageResult{ProcessedCount: 1, TotalCount: 1, Summary: summary}, nil
}
