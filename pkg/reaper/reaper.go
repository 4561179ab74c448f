// Package reaper provides the background monitor for the task substrate:
// stuck-task detection, the operator reset path, and retention archival.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// Service periodically scans for tasks whose progress timestamp went
// stale and transitions them terminally, distinguishing a dead worker
// (lease lapsed) from a live-but-wedged one. It also owns the operator
// reset and the retention archive sweep.
//
// All operations are idempotent and safe to run from multiple pods: the
// exactly-once terminal transition arbitrates every race.
type Service struct {
	tasks     *services.TaskService
	queue     *bus.Bus
	publisher *progress.Publisher
	cfg       *config.ReaperConfig
	retention *config.RetentionConfig
	taskCfg   *config.TaskConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the reaper.
func NewService(
	tasks *services.TaskService,
	queue *bus.Bus,
	publisher *progress.Publisher,
	cfg *config.ReaperConfig,
	retention *config.RetentionConfig,
	taskCfg *config.TaskConfig,
) *Service {
	return &Service{
		tasks:     tasks,
		queue:     queue,
		publisher: publisher,
		cfg:       cfg,
		retention: retention,
		taskCfg:   taskCfg,
	}
}

// Start launches the background loops. Disabled loops are simply not
// run; SweepStuck, ComprehensiveReset, and ArchiveOldTasks stay callable
// either way.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Reaper started",
		"stuck_scan_enabled", s.cfg.Enabled,
		"check_interval", s.cfg.CheckInterval,
		"stuck_threshold", s.taskCfg.StuckThreshold,
		"retention_enabled", s.retention.Enabled,
		"archive_retention", s.taskCfg.ArchiveRetention)
}

// Stop signals the loops to exit and waits for them to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	stuckTick := time.NewTicker(s.cfg.CheckInterval)
	defer stuckTick.Stop()
	archiveTick := time.NewTicker(s.retention.CheckInterval)
	defer archiveTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stuckTick.C:
			if !s.cfg.Enabled {
				continue
			}
			if err := s.SweepStuck(ctx); err != nil {
				slog.Error("Stuck-task sweep failed", "error", err)
			}
		case <-archiveTick.C:
			if !s.retention.Enabled {
				continue
			}
			count, err := s.ArchiveOldTasks(ctx)
			if err != nil {
				slog.Error("Archive sweep failed", "error", err)
				continue
			}
			if count > 0 {
				slog.Info("Archived old tasks", "count", count)
			}
		}
	}
}

// SweepStuck fails every non-terminal task whose progress timestamp is
// older than the stuck threshold. A lapsed (or missing) queue lease means
// the worker died; a live lease means the worker is wedged.
func (s *Service) SweepStuck(ctx context.Context) error {
	stuck, err := s.tasks.FindStuck(ctx, s.taskCfg.StuckThreshold)
	if err != nil {
		return fmt.Errorf("find stuck tasks: %w", err)
	}

	for _, task := range stuck {
		kind, msg := s.classify(ctx, task)
		s.failTask(ctx, task, kind, msg)
	}
	return nil
}

func (s *Service) classify(ctx context.Context, task *models.Task) (models.ErrorKind, string) {
	if task.WorkerTaskID == nil {
		return models.ErrorKindWorkerLost,
			fmt.Sprintf("no progress for over %s and no queue delivery recorded", s.taskCfg.StuckThreshold)
	}
	lapsed, err := s.queue.LeaseLapsed(ctx, *task.WorkerTaskID)
	if err != nil {
		slog.Warn("Lease inspection failed, treating worker as lost",
			"task_id", task.TaskID, "error", err)
		lapsed = true
	}
	if lapsed {
		return models.ErrorKindWorkerLost,
			fmt.Sprintf("worker lease lapsed with no progress for over %s", s.taskCfg.StuckThreshold)
	}
	return models.ErrorKindStuck,
		fmt.Sprintf("worker holds a live lease but made no progress for over %s", s.taskCfg.StuckThreshold)
}

// failTask transitions one stale task to FAILED and announces it. Losing
// the terminal race to the worker is fine; the worker's result stands.
func (s *Service) failTask(ctx context.Context, task *models.Task, kind models.ErrorKind, msg string) {
	log := slog.With("task_id", task.TaskID, "error_kind", kind)

	if task.WorkerTaskID != nil {
		if err := s.queue.RevokeLease(ctx, *task.WorkerTaskID); err != nil {
			log.Warn("Lease revocation failed", "error", err)
		}
	}

	final, err := s.tasks.MarkTerminal(ctx, task.TaskID, models.TerminalUpdate{
		Status:       models.TaskFailed,
		ErrorKind:    &kind,
		ErrorMessage: &msg,
	})
	if err != nil {
		log.Warn("Terminal write lost, task already finalized elsewhere", "error", err)
		return
	}

	if err := s.publisher.PublishTaskError(ctx, task.TaskID, kind, msg); err != nil {
		log.Warn("Task error publish failed", "error", err)
	}
	if err := s.publisher.PublishTaskCompleted(ctx, final); err != nil {
		log.Warn("Task completed publish failed", "error", err)
	}
	log.Warn("Stale task failed terminally", "message", msg)
}

// ComprehensiveReset terminally revokes every non-terminal task, revokes
// their leases, and clears their rings and sequence counters. The active
// pointer frees as a side effect of the terminal transitions. Returns the
// number of tasks revoked.
func (s *Service) ComprehensiveReset(ctx context.Context) (int, error) {
	unfinished, err := s.tasks.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished tasks: %w", err)
	}

	kind := models.ErrorKindStuck
	msg := "revoked by comprehensive reset"
	count := 0
	for _, task := range unfinished {
		if task.WorkerTaskID != nil {
			if err := s.queue.RevokeLease(ctx, *task.WorkerTaskID); err != nil {
				slog.Warn("Lease revocation failed during reset",
					"task_id", task.TaskID, "error", err)
			}
		}

		final, err := s.tasks.MarkTerminal(ctx, task.TaskID, models.TerminalUpdate{
			Status:       models.TaskRevoked,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
		})
		if err != nil {
			slog.Warn("Reset terminal write lost", "task_id", task.TaskID, "error", err)
			continue
		}
		count++

		if err := s.queue.ClearRing(ctx, task.TaskID); err != nil {
			slog.Warn("Ring clear failed during reset", "task_id", task.TaskID, "error", err)
		}
		if err := s.queue.ClearSequences(ctx, task.TaskID); err != nil {
			slog.Warn("Sequence clear failed during reset", "task_id", task.TaskID, "error", err)
		}
		if err := s.publisher.PublishTaskCompleted(ctx, final); err != nil {
			slog.Warn("Reset completed publish failed", "task_id", task.TaskID, "error", err)
		}
	}

	if count > 0 {
		slog.Warn("Comprehensive reset revoked tasks", "count", count)
	}
	return count, nil
}

// ArchiveOldTasks flags terminal tasks older than the configured
// retention as archived. Returns the number archived.
func (s *Service) ArchiveOldTasks(ctx context.Context) (int, error) {
	return s.tasks.ArchiveTasksOlderThan(ctx, s.taskCfg.ArchiveRetention)
}
