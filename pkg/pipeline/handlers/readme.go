package handlers

import (
	"context"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// readmeHandler regenerates the project index from current item state.
type readmeHandler struct{}

func (readmeHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageReadme)
}

func (readmeHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	if sp.Skipped {
		return "readme: skipped"
	}
	return "readme: regenerate the project index"
}

func (readmeHandler) Execute(ctx context.Context, sc *pipeline.StageContext, _ []*models.Item) (*pipeline.StageResult, error) {
	// The index covers the whole tree, not just this task's items.
	all, err := sc.Items.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items for index: %w", err)
	}

	rel, err := sc.Renderer.RenderReadme(all)
	if err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}

	summary := fmt.Sprintf("regenerated %s over %d items", rel, len(all))
	sc.Emit(1, 1, 0, summary)
	return &pipeline.StageResult{ProcessedCount: 1, TotalCount: 1, Summary: summary}, nil
}
