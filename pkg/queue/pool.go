package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curioworks/curio/pkg/bus"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// WorkerPool manages a pool of queue workers on one pod.
type WorkerPool struct {
	podID     string
	tasks     *services.TaskService
	queue     *bus.Bus
	publisher *progress.Publisher
	cfg       *config.WorkerConfig
	executor  TaskExecutor
	workers   []*Worker
	started   bool

	// Task cancel registry: task_id → cancel function for tasks running
	// on this pod.
	mu          sync.RWMutex
	activeTasks map[string]context.CancelFunc
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(podID string, tasks *services.TaskService, queue *bus.Bus, publisher *progress.Publisher, cfg *config.WorkerConfig, executor TaskExecutor) *WorkerPool {
	return &WorkerPool{
		podID:       podID,
		tasks:       tasks,
		queue:       queue,
		publisher:   publisher,
		cfg:         cfg,
		executor:    executor,
		workers:     make([]*Worker, 0, cfg.Concurrency),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call more than once;
// repeat calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "concurrency", p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := newWorker(workerID, p.podID, p.tasks, p.queue, p.publisher, p.cfg, p.executor, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	return nil
}

// Stop signals all workers and waits for in-flight tasks to finish,
// bounded by the shutdown grace period. Tasks still running after the
// grace get their contexts cancelled; the executors then write CANCELLED
// terminally before the workers exit.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeTaskIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active tasks to complete", "count", len(active), "task_ids", active)
	}

	for _, w := range p.workers {
		w.signalStop()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		slog.Warn("Shutdown grace expired, cancelling active tasks", "task_ids", p.activeTaskIDs())
		p.mu.RLock()
		for _, cancel := range p.activeTasks {
			cancel()
		}
		p.mu.RUnlock()
		<-done
	}
	slog.Info("Worker pool stopped")
}

// RegisterTask stores a cancel function for operator cancellation.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelLocal cancels a task running on this pod. Returns true when the
// task was found here. Implements control.CancelNotifier.
func (p *WorkerPool) CancelLocal(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current state.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	depth, err := p.queue.Health(ctx)
	var queueErr string
	if err != nil {
		queueErr = fmt.Sprintf("queue depth query failed: %v", err)
		slog.Error("Queue health check failed", "pod_id", p.podID, "error", err)
	}

	stats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats[i] = w.Health()
		if stats[i].Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && err == nil,
		QueueReachable: err == nil,
		QueueError:     queueErr,
		PodID:          p.podID,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		QueueDepth:     depth,
		WorkerStats:    stats,
	}
}

func (p *WorkerPool) activeTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
