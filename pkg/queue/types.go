// Package queue runs the worker side of the substrate: polling the
// message bus, claiming tasks, executing stage plans, and writing the
// terminal state exactly once.
package queue

import (
	"context"
	"time"

	"github.com/curioworks/curio/pkg/models"
)

// TaskExecutor runs one claimed task to completion.
//
// The executor owns the full stage loop internally: it builds the plan,
// runs every stage in order, and writes phase and item state
// progressively as it goes. The worker only handles claiming, the
// heartbeat, cancellation plumbing, the terminal transition, and the
// queue acknowledgement.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task) *ExecutionResult
}

// ExecutionResult is just the terminal state; all intermediate state was
// already persisted during execution.
type ExecutionResult struct {
	Status    models.TaskStatus // SUCCESS, FAILED, or CANCELLED
	Summary   string
	ErrorKind *models.ErrorKind
	Err       error
	Trace     string
}

// WorkerStatus reports what a worker is doing right now.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	QueueReachable bool           `json:"queue_reachable"`
	QueueError     string         `json:"queue_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int64          `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	TasksProcessed int          `json:"tasks_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}
