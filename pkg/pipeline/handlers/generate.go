package handlers

import (
	"context"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// generateHandler produces each item's long-form markdown artifact and
// writes it under the project root.
type generateHandler struct{}

func (generateHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageGenerate)
}

func (generateHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageGenerate), sp)
}

func (generateHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		article, err := sc.Model.GenerateArticle(ctx, item)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("generate article: %w", err)
		}

		artifactPath, err := sc.Renderer.RenderItem(item, article)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("render article: %w", err)
		}

		generated := true
		return models.ItemPatch{
			Generated:    &generated,
			ArtifactPath: &artifactPath,
		}, nil
	})
}
