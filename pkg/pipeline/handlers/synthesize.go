package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// synthesizeHandler writes one aggregate document per sub-category of
// generated items. Sources come straight from the artifacts on disk, so
// the stage works in synthesis_only runs without a prior db_sync.
type synthesizeHandler struct{}

func (synthesizeHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageSynthesize)
}

func (synthesizeHandler) PlanDescription(d *pipeline.Directives, sp pipeline.StagePlan) string {
	if sp.Skipped {
		return "synthesize: skipped"
	}
	if sp.PendingMembers > 0 {
		return fmt.Sprintf("synthesize: %d sub-categories known, %d items awaiting categorization, %s mode",
			len(sp.NeedsProcessing), sp.PendingMembers, d.SynthesisMode)
	}
	return fmt.Sprintf("synthesize: %d sub-categories in %s mode", len(sp.NeedsProcessing), d.SynthesisMode)
}

func (synthesizeHandler) Execute(ctx context.Context, sc *pipeline.StageContext, items []*models.Item) (*pipeline.StageResult, error) {
	groups := groupBySubCategory(items)
	subs := make([]string, 0, len(groups))
	for sub := range groups {
		subs = append(subs, sub)
	}
	sort.Strings(subs)

	res := &pipeline.StageResult{TotalCount: len(subs)}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := synthesizeGroup(ctx, sc, sub, groups[sub]); err != nil {
			res.ErrorCount++
			sc.TaskLog.Error(ctx, fmt.Sprintf("synthesis for %s failed: %v", sub, err))
			sc.Emit(res.ProcessedCount, res.TotalCount, res.ErrorCount, "synthesis for "+sub+" failed")
			if sc.Directives.FailFast {
				return res, fmt.Errorf("synthesize %s: %w", sub, err)
			}
			continue
		}

		res.ProcessedCount++
		sc.Emit(res.ProcessedCount, res.TotalCount, res.ErrorCount, "synthesized "+sub)
	}

	res.Summary = fmt.Sprintf("synthesized %d of %d sub-categories", res.ProcessedCount, res.TotalCount)
	return res, nil
}

func synthesizeGroup(ctx context.Context, sc *pipeline.StageContext, sub string, members []*models.Item) error {
	sources := make([]*models.KnowledgeItem, 0, len(members))
	for _, item := range members {
		content, err := os.ReadFile(filepath.Join(sc.ProjectRoot, filepath.FromSlash(*item.ArtifactPath)))
		if err != nil {
			return fmt.Errorf("read artifact for %s: %w", item.ItemID, err)
		}
		sources = append(sources, &models.KnowledgeItem{
			ItemID:          item.ItemID,
			Title:           artifactTitle(string(content), item),
			SubCategory:     sub,
			ContentMarkdown: string(content),
		})
	}

	article, err := sc.Model.Synthesize(ctx, sub, sc.Directives.SynthesisMode, sources)
	if err != nil {
		return err
	}
	if _, err := sc.Renderer.RenderSynthesis(sub, article); err != nil {
		return fmt.Errorf("render synthesis: %w", err)
	}
	return nil
}

// groupBySubCategory buckets generated items that have both a category
// and an artifact; anything else has no synthesis contribution.
func groupBySubCategory(items []*models.Item) map[string][]*models.Item {
	groups := map[string][]*models.Item{}
	for _, item := range items {
		if !item.Generated || item.SubCategory == nil || item.ArtifactPath == nil {
			continue
		}
		groups[*item.SubCategory] = append(groups[*item.SubCategory], item)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].ItemID < members[j].ItemID })
	}
	return groups
}
