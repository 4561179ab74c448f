// Package control owns the task lifecycle edges the API triggers:
// starting a run (create, enqueue, announce) and requesting cancellation.
// Execution itself belongs to the worker pool.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// CancelNotifier lets Stop poke workers in this process directly, so a
// locally running task does not wait for the pub/sub round trip.
type CancelNotifier interface {
	CancelLocal(taskID string) bool
}

// Controller starts and stops tasks.
type Controller struct {
	tasks     *services.TaskService
	queue     *bus.Bus
	publisher *progress.Publisher
	canceller CancelNotifier
	logger    *slog.Logger
}

// NewController creates a controller. canceller may be nil on replicas
// that run no workers.
func NewController(tasks *services.TaskService, queue *bus.Bus, publisher *progress.Publisher, canceller CancelNotifier) *Controller {
	return &Controller{
		tasks:     tasks,
		queue:     queue,
		publisher: publisher,
		canceller: canceller,
		logger:    slog.Default().With("component", "control"),
	}
}

// Start validates preferences, creates the task, and enqueues it. The
// single-active-task invariant is enforced by CreateTask; a conflicting
// start returns ErrTaskAlreadyActive. When the enqueue fails the task is
// terminally failed on the spot so no orphan PENDING row survives.
func (c *Controller) Start(ctx context.Context, prefs models.Preferences) (*models.Task, error) {
	if _, err := pipeline.BuildDirectives(prefs); err != nil {
		return nil, err
	}

	task, err := c.tasks.CreateTask(ctx, prefs)
	if err != nil {
		return nil, err
	}

	deliveryID, err := c.queue.Enqueue(ctx, bus.TaskPayload{
		TaskID:     task.TaskID,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		c.failUnqueued(task.TaskID, err)
		return nil, fmt.Errorf("enqueue task %s: %w", task.TaskID, err)
	}

	stamped, err := c.tasks.UpdateTask(ctx, task.TaskID, task.UpdatedAt, services.TaskMutation{
		WorkerTaskID: &deliveryID,
	})
	if err != nil {
		// A worker may have claimed the task already; its MarkRunning
		// stamps the delivery ID itself.
		c.logger.Warn("Could not stamp delivery ID on new task",
			"task_id", task.TaskID, "error", err)
		stamped = task
	}

	if err := c.publisher.PublishTaskStatus(ctx, stamped); err != nil {
		c.logger.Warn("Initial status publish failed", "task_id", task.TaskID, "error", err)
	}

	c.logger.Info("Task started", "task_id", task.TaskID, "kind", task.Kind, "delivery_id", deliveryID)
	return stamped, nil
}

// Stop requests cooperative cancellation: durable flag first, then the
// ephemeral signal, then the local pool. The worker performs the actual
// terminal transition.
func (c *Controller) Stop(ctx context.Context, taskID string) error {
	if err := c.tasks.RequestCancel(ctx, taskID); err != nil {
		return err
	}

	if err := c.queue.Publish(ctx, bus.CancelChannel(taskID), []byte(`{"reason":"operator"}`)); err != nil {
		c.logger.Warn("Cancel signal publish failed, worker will see the flag on next heartbeat",
			"task_id", taskID, "error", err)
	}

	if c.canceller != nil && c.canceller.CancelLocal(taskID) {
		c.logger.Info("Cancelled task on local worker", "task_id", taskID)
	}
	return nil
}

// failUnqueued terminally fails a task whose delivery never reached the
// queue. Runs detached from the request context for the same reason
// MarkTerminal does.
func (c *Controller) failUnqueued(taskID string, cause error) {
	kind := models.ErrorKindFatal
	msg := fmt.Sprintf("enqueue failed: %v", cause)
	if _, err := c.tasks.MarkTerminal(context.Background(), taskID, models.TerminalUpdate{
		Status:       models.TaskFailed,
		ErrorKind:    &kind,
		ErrorMessage: &msg,
	}); err != nil {
		c.logger.Error("Could not fail unqueued task", "task_id", taskID, "error", err)
	}
}
