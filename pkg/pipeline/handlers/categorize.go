package handlers

import (
	"context"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// categorizeHandler asks the model for each item's category verdict.
type categorizeHandler struct{}

func (categorizeHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageCategorize)
}

func (categorizeHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageCategorize), sp)
}

func (categorizeHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		c, err := sc.Model.Classify(ctx, item)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("classify: %w", err)
		}
		if c.MainCategory == "" || c.SubCategory == "" {
			return models.ItemPatch{}, fmt.Errorf("classify: empty category verdict")
		}

		categorized := true
		return models.ItemPatch{
			Categorized:  &categorized,
			MainCategory: &c.MainCategory,
			SubCategory:  &c.SubCategory,
			ShortName:    &c.ShortName,
		}, nil
	})
}
