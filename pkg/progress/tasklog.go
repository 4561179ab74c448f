package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/curioworks/curio/pkg/models"
)

// LogAppender is the durable log store. Implemented by services.LogService.
type LogAppender interface {
	Append(ctx context.Context, taskID string, level models.LogLevel, component, message string, phaseID *string) (int64, error)
}

// TaskLogger writes task-scoped log lines: durable first (task_logs, which
// allocates the dense sequence), then mirrored as a live log event reusing
// that sequence. Stage handlers log through this so operators see the same
// lines live and in the logs API.
type TaskLogger struct {
	taskID    string
	component string
	phaseID   *string
	store     LogAppender
	publisher *Publisher
}

// NewTaskLogger creates a logger for one task.
func NewTaskLogger(taskID string, store LogAppender, publisher *Publisher) *TaskLogger {
	return &TaskLogger{taskID: taskID, component: "worker", store: store, publisher: publisher}
}

// WithComponent returns a copy attributed to the given component.
func (l *TaskLogger) WithComponent(component string) *TaskLogger {
	c := *l
	c.component = component
	return &c
}

// WithPhase returns a copy attributed to the given phase.
func (l *TaskLogger) WithPhase(phaseID string) *TaskLogger {
	c := *l
	c.phaseID = &phaseID
	return &c
}

func (l *TaskLogger) Debug(ctx context.Context, message string) { l.log(ctx, models.LogDebug, message) }
func (l *TaskLogger) Info(ctx context.Context, message string)  { l.log(ctx, models.LogInfo, message) }
func (l *TaskLogger) Warn(ctx context.Context, message string)  { l.log(ctx, models.LogWarn, message) }
func (l *TaskLogger) Error(ctx context.Context, message string) { l.log(ctx, models.LogError, message) }

func (l *TaskLogger) log(ctx context.Context, level models.LogLevel, message string) {
	seq, err := l.store.Append(ctx, l.taskID, level, l.component, message, l.phaseID)
	if err != nil {
		// Task logging is best-effort from the caller's perspective: a
		// failed append must not fail the stage.
		slog.Warn("Failed to persist task log line",
			"task_id", l.taskID, "component", l.component, "error", err)
		return
	}
	if l.publisher == nil {
		return
	}
	entry := &models.LogEntry{
		TaskID:    l.taskID,
		Sequence:  seq,
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		PhaseID:   l.phaseID,
		Message:   message,
	}
	if err := l.publisher.PublishLog(ctx, entry); err != nil {
		slog.Warn("Failed to publish task log line",
			"task_id", l.taskID, "error", err)
	}
}
