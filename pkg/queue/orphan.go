package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// CleanupStartupOrphans fails tasks this pod owned when it last died.
// Called once during startup, before the worker pool begins polling, so
// a restarted pod never leaves its own RUNNING rows behind. The reaper
// covers tasks owned by pods that never come back.
func CleanupStartupOrphans(ctx context.Context, tasks *services.TaskService, publisher *progress.Publisher, podID string) error {
	orphans, err := tasks.FindOwnedUnfinished(ctx, podID)
	if err != nil {
		return fmt.Errorf("query startup orphans: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Found startup orphans from previous run", "pod_id", podID, "count", len(orphans))

	kind := models.ErrorKindWorkerLost
	for _, task := range orphans {
		msg := fmt.Sprintf("worker pod %s restarted while task was in flight", podID)
		final, err := tasks.MarkTerminal(ctx, task.TaskID, models.TerminalUpdate{
			Status:       models.TaskFailed,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
		})
		if err != nil {
			slog.Error("Failed to mark startup orphan", "task_id", task.TaskID, "error", err)
			continue
		}

		if publisher != nil {
			if err := publisher.PublishTaskError(ctx, task.TaskID, kind, msg); err != nil {
				slog.Warn("Orphan error publish failed", "task_id", task.TaskID, "error", err)
			}
			if err := publisher.PublishTaskCompleted(ctx, final); err != nil {
				slog.Warn("Orphan completed publish failed", "task_id", task.TaskID, "error", err)
			}
		}
		slog.Info("Startup orphan failed terminally", "task_id", task.TaskID)
	}
	return nil
}
