// Package queue provides the durable generation task queue and its worker
// pool.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// ErrNoTasksAvailable indicates no due pending tasks are in the queue.
var ErrNoTasksAvailable = errors.New("no tasks available")

// TaskExecutor processes one claimed task.
//
// The executor owns the task's side effects: it writes virtual entities
// progressively and must tolerate re-execution of a task that already ran
// partway (every write is an upsert). The worker only handles claiming,
// lease heartbeats, timeout/cancel bookkeeping, and the terminal status
// update.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.GenerationTask) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one attempt.
type ExecutionResult struct {
	// Status must be completed, failed or cancelled.
	Status models.TaskStatus

	// Error describes a failure; nil when Status is completed.
	Error error

	// Retryable marks a failed attempt as eligible for backoff re-scheduling.
	Retryable bool
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool                  `json:"is_healthy"`
	DBReachable    bool                  `json:"db_reachable"`
	DBError        string                `json:"db_error,omitempty"`
	InstanceID     string                `json:"instance_id"`
	ActiveWorkers  int                   `json:"active_workers"`
	TotalWorkers   int                   `json:"total_workers"`
	QueueDepth     int                   `json:"queue_depth"`
	Processing     int                   `json:"processing"`
	WorkerStats    []models.WorkerStatus `json:"worker_stats"`
	LastSweep      time.Time             `json:"last_sweep"`
	LeasesSwept    int                   `json:"leases_swept"`
	TasksProcessed int                   `json:"tasks_processed"`
}
