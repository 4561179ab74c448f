package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// embedHandler embeds each generated artifact and upserts the vector.
type embedHandler struct{}

func (embedHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageEmbed)
}

func (embedHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageEmbed), sp)
}

func (embedHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		if item.ArtifactPath == nil {
			return models.ItemPatch{}, fmt.Errorf("item %s has no artifact", item.ItemID)
		}

		content, err := os.ReadFile(filepath.Join(sc.ProjectRoot, filepath.FromSlash(*item.ArtifactPath)))
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("read artifact: %w", err)
		}

		vectors, err := sc.Model.Embed(ctx, []string{string(content)})
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("embed artifact: %w", err)
		}
		if len(vectors) != 1 {
			return models.ItemPatch{}, fmt.Errorf("embed artifact: got %d vectors for one text", len(vectors))
		}

		if err := sc.Vectors.Upsert(ctx, item.ItemID, vectors[0], sc.EmbeddingModel); err != nil {
			return models.ItemPatch{}, fmt.Errorf("store vector: %w", err)
		}

		embedded := true
		return models.ItemPatch{Embedded: &embedded}, nil
	})
}
