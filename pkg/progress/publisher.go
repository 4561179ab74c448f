package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/models"
)

// EventSink is the slice of the bus the publisher needs. Implemented by
// *bus.Bus.
type EventSink interface {
	NextSequence(ctx context.Context, taskID, kind string) (int64, error)
	AppendRing(ctx context.Context, taskID string, payload []byte) error
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publisher emits typed progress events. Contract: the caller persists the
// corresponding durable state change first, then publishes. Each publish
// (1) allocates the per-(task, kind) sequence, (2) appends the envelope to
// the task's ring, (3) broadcasts on the task channel.
//
// Log events are the exception to sequence allocation: their sequence is
// the durable task_logs sequence, passed in by the caller.
type Publisher struct {
	sink EventSink
}

// NewPublisher creates a Publisher over the bus.
func NewPublisher(sink EventSink) *Publisher {
	return &Publisher{sink: sink}
}

// PublishTaskStatus emits a task.status event for a task's current record.
func (p *Publisher) PublishTaskStatus(ctx context.Context, task *models.Task) error {
	payload := TaskStatusPayload{
		Type:      KindTaskStatus,
		TaskID:    task.TaskID,
		IsRunning: task.Status == models.TaskRunning,
		UpdatedAt: task.UpdatedAt.Format(time.RFC3339Nano),
	}
	if task.CurrentPhaseID != nil {
		payload.CurrentPhaseID = *task.CurrentPhaseID
	}
	if task.CurrentPhaseMessage != nil {
		payload.CurrentPhaseMessage = *task.CurrentPhaseMessage
	}
	if task.StartedAt != nil {
		payload.StartedAt = task.StartedAt.Format(time.RFC3339Nano)
	}
	return p.emit(ctx, task.TaskID, KindTaskStatus, &payload.Sequence, &payload.Timestamp, &payload)
}

// PublishPhaseUpdate emits a phase.update event.
func (p *Publisher) PublishPhaseUpdate(ctx context.Context, taskID string, payload PhaseUpdatePayload) error {
	payload.Type = KindPhaseUpdate
	payload.TaskID = taskID
	return p.emit(ctx, taskID, KindPhaseUpdate, &payload.Sequence, &payload.Timestamp, &payload)
}

// PublishPhaseComplete emits a phase.complete event.
func (p *Publisher) PublishPhaseComplete(ctx context.Context, taskID string, payload PhaseCompletePayload) error {
	payload.Type = KindPhaseComplete
	payload.TaskID = taskID
	return p.emit(ctx, taskID, KindPhaseComplete, &payload.Sequence, &payload.Timestamp, &payload)
}

// PublishLog emits a log event mirroring an already-persisted log entry.
// The entry's durable sequence is reused instead of allocating one.
func (p *Publisher) PublishLog(ctx context.Context, entry *models.LogEntry) error {
	payload := LogPayload{
		Type:      KindLog,
		TaskID:    entry.TaskID,
		Sequence:  entry.Sequence,
		Level:     entry.Level,
		Component: entry.Component,
		Message:   entry.Message,
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
	}
	if entry.PhaseID != nil {
		payload.PhaseID = *entry.PhaseID
	}
	body, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal log event: %w", err)
	}
	return p.deliver(ctx, entry.TaskID, body)
}

// PublishTaskCompleted emits the single task.completed event for a task.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, task *models.Task) error {
	payload := TaskCompletedPayload{
		Type:   KindTaskCompleted,
		TaskID: task.TaskID,
		Status: task.Status,
	}
	if task.ResultSummary != nil {
		payload.ResultSummary = *task.ResultSummary
	}
	if task.DurationMS != nil {
		payload.DurationSeconds = float64(*task.DurationMS) / 1000
	}
	return p.emit(ctx, task.TaskID, KindTaskCompleted, &payload.Sequence, &payload.Timestamp, &payload)
}

// PublishTaskError emits a task.error event for a failed task.
func (p *Publisher) PublishTaskError(ctx context.Context, taskID string, kind models.ErrorKind, message string) error {
	payload := TaskErrorPayload{
		Type:         KindTaskError,
		TaskID:       taskID,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
	return p.emit(ctx, taskID, KindTaskError, &payload.Sequence, &payload.Timestamp, &payload)
}

// emit allocates the sequence, stamps the timestamp, then delivers.
func (p *Publisher) emit(ctx context.Context, taskID, kind string, seq *int64, ts *string, payload any) error {
	n, err := p.sink.NextSequence(ctx, taskID, kind)
	if err != nil {
		return fmt.Errorf("failed to sequence %s event: %w", kind, err)
	}
	*seq = n
	*ts = time.Now().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	return p.deliver(ctx, taskID, body)
}

// deliver appends to the ring then broadcasts. A ring failure aborts the
// publish; a broadcast failure is logged and swallowed, since the ring
// already covers reconnecting clients.
func (p *Publisher) deliver(ctx context.Context, taskID string, body []byte) error {
	if err := p.sink.AppendRing(ctx, taskID, body); err != nil {
		return err
	}
	if err := p.sink.Publish(ctx, bus.TaskChannel(taskID), body); err != nil {
		slog.Warn("Failed to broadcast progress event",
			"task_id", taskID, "error", err)
	}
	return nil
}
