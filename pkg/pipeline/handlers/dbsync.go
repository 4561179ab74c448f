package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// dbSyncHandler materializes each generated artifact as a queryable
// knowledge row. The artifact on disk is the source of truth; re-syncing
// replaces the row.
type dbSyncHandler struct{}

func (dbSyncHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageDBSync)
}

func (dbSyncHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	return perItemPlanLine(mustDescriptor(pipeline.StageDBSync), sp)
}

func (dbSyncHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	return pipeline.RunPerItem(ctx, sc, items, func(ctx context.Context, item *models.Item) (models.ItemPatch, error) {
		if item.ArtifactPath == nil || item.MainCategory == nil || item.SubCategory == nil {
			return models.ItemPatch{}, fmt.Errorf("item %s missing artifact or category", item.ItemID)
		}

		content, err := os.ReadFile(filepath.Join(sc.ProjectRoot, filepath.FromSlash(*item.ArtifactPath)))
		if err != nil {
			return models.ItemPatch{}, fmt.Errorf("read artifact: %w", err)
		}

		k := &models.KnowledgeItem{
			ItemID:          item.ItemID,
			Title:           artifactTitle(string(content), item),
			MainCategory:    *item.MainCategory,
			SubCategory:     *item.SubCategory,
			ContentMarkdown: string(content),
			SourceURL:       payloadURL(item.RawPayload),
		}
		if err := sc.Knowledge.Upsert(ctx, k); err != nil {
			return models.ItemPatch{}, fmt.Errorf("upsert knowledge row: %w", err)
		}

		synced := true
		return models.ItemPatch{DBSynced: &synced}, nil
	})
}

// artifactTitle takes the first markdown heading, falling back to the
// item's short name and then its ID.
func artifactTitle(content string, item *models.Item) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	if item.ShortName != nil && *item.ShortName != "" {
		return *item.ShortName
	}
	return item.ItemID
}

// payloadURL extracts the bookmark URL from a raw payload, when present.
func payloadURL(payload models.JSONText) *string {
	if len(payload) == 0 {
		return nil
	}
	var fields struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil || fields.URL == "" {
		return nil
	}
	return &fields.URL
}
