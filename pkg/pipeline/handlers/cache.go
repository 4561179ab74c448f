package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// cacheHandler materializes each item's full payload and media references
// from the source.
type cacheHandler struct{}

func (cacheHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageCache)
}

func (cacheHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageCache), sp)
}

func (cacheHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		payload, mediaPaths, err := sc.Scraper.Fetch(ctx, item)
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("fetch payload: %w", err)
		}

		cached := true
		sum := sha256.Sum256(payload)
		hash := hex.EncodeToString(sum[:])
		raw := models.JSONText(payload)
		media := models.StringList(mediaPaths)
		return models.ItemPatch{
			Cached:      &cached,
			RawPayload:  &raw,
			ContentHash: &hash,
			MediaPaths:  &media,
		}, nil
	})
}
