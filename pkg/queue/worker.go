package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// TaskRegistry is the subset of WorkerPool a worker uses to expose its
// running task for cancellation.
type TaskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// Worker is a single queue worker that polls for and executes tasks.
type Worker struct {
	id        string
	podID     string
	tasks     *services.TaskService
	queue     *bus.Bus
	publisher *progress.Publisher
	cfg       *config.WorkerConfig
	executor  TaskExecutor
	pool      TaskRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

func newWorker(id, podID string, tasks *services.TaskService, queue *bus.Bus, publisher *progress.Publisher, cfg *config.WorkerConfig, executor TaskExecutor, pool TaskRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		tasks:        tasks,
		queue:        queue,
		publisher:    publisher,
		cfg:          cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker and waits for its current task to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.signalStop()
	w.wait()
}

func (w *Worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) wait() {
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main poll loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			d, err := w.queue.Reserve(ctx, w.id)
			if err != nil {
				log.Error("Reserve failed", "error", err)
				w.sleep(time.Second)
				continue
			}
			if d == nil {
				w.sleep(w.pollInterval())
				continue
			}
			w.process(ctx, d)
		}
	}
}

// process runs one delivery end to end: claim, execute, finalize, ack.
func (w *Worker) process(ctx context.Context, d *bus.Delivery) {
	taskID := d.Payload.TaskID
	log := slog.With("task_id", taskID, "worker_id", w.id)

	task, err := w.tasks.MarkRunning(ctx, taskID, w.podID, d.DeliveryID)
	if err != nil {
		// The task is gone, already terminal, or no longer PENDING (a
		// reaper or reset beat us to it). Nothing to execute.
		log.Warn("Could not claim task, acknowledging delivery", "error", err)
		w.ack(d.DeliveryID, log)
		return
	}
	log.Info("Task claimed")

	if err := w.publisher.PublishTaskStatus(ctx, task); err != nil {
		log.Warn("Running status publish failed", "error", err)
	}

	w.setStatus(WorkerStatusWorking, taskID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	w.pool.RegisterTask(taskID, cancelTask)
	defer w.pool.UnregisterTask(taskID)

	// Ephemeral cancel signal and the durable flag both funnel into
	// cancelTask; the executor only ever watches its context.
	stopSignals := w.watchCancelSignals(taskCtx, taskID, cancelTask)
	stopHeartbeat := w.startHeartbeat(taskID, d.DeliveryID, cancelTask)

	result := w.executor.Execute(taskCtx, task)
	stopHeartbeat()
	stopSignals()

	if result == nil {
		result = w.resultForNil(taskCtx)
	}

	w.finalize(taskID, d.DeliveryID, result, log)

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()
	log.Info("Task processing complete", "status", result.Status)
}

// watchCancelSignals subscribes to the task's cancel channel and cancels
// the task context on any message. Returns a stop function.
func (w *Worker) watchCancelSignals(ctx context.Context, taskID string, cancelTask context.CancelFunc) func() {
	sub := w.queue.Subscribe(ctx, bus.CancelChannel(taskID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				slog.Info("Cancel signal received", "task_id", taskID, "channel", msg.Channel)
				cancelTask()
			}
		}
	}()

	return func() {
		_ = sub.Close()
		<-done
	}
}

// startHeartbeat extends the queue lease and bumps the task's progress
// timestamp every heartbeat interval, and polls the durable cancel flag.
// Returns a stop function.
func (w *Worker) startHeartbeat(taskID, deliveryID string, cancelTask context.CancelFunc) func() {
	hbCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendLease(hbCtx, deliveryID, w.id); err != nil {
					slog.Warn("Lease extension failed", "task_id", taskID, "error", err)
				}
				if err := w.tasks.Heartbeat(hbCtx, taskID); err != nil {
					slog.Warn("Heartbeat update failed", "task_id", taskID, "error", err)
				}
				task, err := w.tasks.GetTask(hbCtx, taskID)
				if err != nil {
					slog.Warn("Cancel flag poll failed", "task_id", taskID, "error", err)
					continue
				}
				if task.CancelRequested {
					slog.Info("Durable cancel flag observed", "task_id", taskID)
					cancelTask()
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

// resultForNil synthesizes a safe result when the executor returns nil.
func (w *Worker) resultForNil(taskCtx context.Context) *ExecutionResult {
	if errors.Is(taskCtx.Err(), context.Canceled) {
		return &ExecutionResult{Status: models.TaskCancelled, Err: context.Canceled}
	}
	kind := models.ErrorKindFatal
	return &ExecutionResult{
		Status:    models.TaskFailed,
		ErrorKind: &kind,
		Err:       fmt.Errorf("executor returned nil result"),
	}
}

// finalize writes the terminal state and acknowledges the delivery. Runs
// on a background context so a cancelled task context cannot lose the
// terminal write.
func (w *Worker) finalize(taskID, deliveryID string, result *ExecutionResult, log *slog.Logger) {
	upd := models.TerminalUpdate{Status: result.Status, ErrorKind: result.ErrorKind}
	if result.Summary != "" {
		upd.ResultSummary = &result.Summary
	}
	if result.Err != nil {
		msg := result.Err.Error()
		upd.ErrorMessage = &msg
	}
	if result.Trace != "" {
		upd.ErrorTrace = &result.Trace
	}

	final, err := w.tasks.MarkTerminal(context.Background(), taskID, upd)
	if err != nil {
		// Exactly-once: a reaper or reset already finished this task.
		log.Warn("Terminal write lost, task already finalized elsewhere", "error", err)
		w.ack(deliveryID, log)
		return
	}

	ctx := context.Background()
	if result.Status == models.TaskFailed && result.ErrorKind != nil {
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		if err := w.publisher.PublishTaskError(ctx, taskID, *result.ErrorKind, msg); err != nil {
			log.Warn("Task error publish failed", "error", err)
		}
	}
	if err := w.publisher.PublishTaskCompleted(ctx, final); err != nil {
		log.Warn("Task completed publish failed", "error", err)
	}

	w.ack(deliveryID, log)
}

func (w *Worker) ack(deliveryID string, log *slog.Logger) {
	if err := w.queue.Ack(context.Background(), deliveryID); err != nil {
		log.Error("Delivery ack failed", "delivery_id", deliveryID, "error", err)
	}
}

// sleep waits for the duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(jitter)))
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
