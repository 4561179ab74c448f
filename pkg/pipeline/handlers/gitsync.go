package handlers

import (
	"context"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
)

// gitSyncHandler publishes the project tree. A clean tree is success.
type gitSyncHandler struct{}

func (gitSyncHandler) Descriptor() pipeline.StageDescriptor {
	return mustDescriptor(pipeline.StageGitSync)
}

func (gitSyncHandler) PlanDescription(_ *pipeline.Directives, sp pipeline.StagePlan) string {
	if sp.Skipped {
		return "git_sync: skipped"
	}
	return "git_sync: commit and push the project tree"
}

func (gitSyncHandler) Execute(ctx context.Context, sc *pipeline.StageContext, _ []*models.Item) (*pipeline.StageResult, error) {
	message := fmt.Sprintf("Update knowledge base (task %s)", sc.TaskID)
	committed, err := sc.Git.Sync(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("git sync: %w", err)
	}

	summary := "tree clean, nothing to publish"
	if committed {
		summary = "committed and published the project tree"
	}
	sc.TaskLog.Info(ctx, summary)
	sc.Emit(1, 1, 0, summary)
	return &pipeline.StageResult{ProcessedCount: 1, TotalCount: 1, Summary: summary}, nil
}
