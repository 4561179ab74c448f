package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// mediaHandler runs the vision model over each item's media assets and
// stores the resulting descriptors. Items without media still get the
// flag so the planner does not revisit them.
type mediaHandler struct{}

func (mediaHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageMedia)
}

func (mediaHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageMedia), sp)
}

func (mediaHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		done := true
		if len(item.MediaPaths) == 0 {
			empty := models.JSONText("[]")
			return models.ItemPatch{MediaDone: &done, MediaDescriptors: &empty}, nil
		}

		descriptors, err := sc.Model.DescribeMedia(ctx, item)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("describe media: %w", err)
		}
		raw, err := json.Marshal(descriptors)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("encode media descriptors: %w", err)
		}

		encoded := models.JSONText(raw)
		return models.ItemPatch{MediaDone: &done, MediaDescriptors: &encoded}, nil
	})
}
