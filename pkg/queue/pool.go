package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// WorkerPool manages a pool of queue workers plus the lease sweeper.
type WorkerPool struct {
	instanceID string
	queue      *TaskQueue
	config     *config.QueueConfig
	executor   TaskExecutor
	workers    []*Worker
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// In-flight task cancel registry: task_id -> cancel function.
	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	// Sweeper state
	sweepMu     sync.Mutex
	lastSweep   time.Time
	leasesSwept int
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(instanceID string, queue *TaskQueue, cfg *config.QueueConfig, executor TaskExecutor) *WorkerPool {
	return &WorkerPool{
		instanceID:  instanceID,
		queue:       queue,
		config:      cfg,
		executor:    executor,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the lease sweeper. Safe to call
// multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "instance_id", p.instanceID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "instance_id", p.instanceID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.instanceID, i)
		worker := NewWorker(workerID, p.instanceID, p.queue, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runLeaseSweeper(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current tasks before exiting (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeTaskIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active tasks to complete",
			"count", len(active),
			"task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// activeTaskIDs returns the IDs of tasks currently registered as in-flight.
func (p *WorkerPool) activeTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}

// RegisterTask stores a cancel function for manual cancellation.
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

// CancelTask triggers context cancellation for a task running on this
// instance. Returns true if the task was found here.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// WorkerStatuses returns the liveness entries of all workers.
func (p *WorkerPool) WorkerStatuses() []models.WorkerStatus {
	statuses := make([]models.WorkerStatus, len(p.workers))
	for i, worker := range p.workers {
		statuses[i] = worker.Status()
	}
	return statuses
}

// Health reports the pool and queue state for the health endpoint.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	stats, err := p.queue.Stats(ctx)

	active := 0
	processed := 0
	workerStats := make([]models.WorkerStatus, len(p.workers))
	for i, worker := range p.workers {
		workerStats[i] = worker.Status()
		if workerStats[i].Busy {
			active++
		}
		processed += worker.Processed()
	}

	p.sweepMu.Lock()
	lastSweep := p.lastSweep
	leasesSwept := p.leasesSwept
	p.sweepMu.Unlock()

	health := &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && err == nil,
		DBReachable:    err == nil,
		InstanceID:     p.instanceID,
		ActiveWorkers:  active,
		TotalWorkers:   len(p.workers),
		WorkerStats:    workerStats,
		LastSweep:      lastSweep,
		LeasesSwept:    leasesSwept,
		TasksProcessed: processed,
	}
	if err != nil {
		health.DBError = fmt.Sprintf("queue stats query failed: %v", err)
	} else {
		health.QueueDepth = stats.Pending
		health.Processing = stats.Processing
	}
	return health
}

// runLeaseSweeper periodically reclaims expired leases. Every instance runs
// the sweeper independently; the sweep statements are idempotent.
func (p *WorkerPool) runLeaseSweeper(ctx context.Context) {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			reclaimed, failed, err := p.queue.SweepExpiredLeases(ctx)
			if err != nil {
				slog.Error("Lease sweep failed", "error", err)
				continue
			}
			p.sweepMu.Lock()
			p.lastSweep = time.Now()
			p.leasesSwept += reclaimed
			p.sweepMu.Unlock()
			if reclaimed > 0 || failed > 0 {
				slog.Warn("Lease sweep reclaimed tasks", "requeued", reclaimed, "failed", failed)
			}
		}
	}
}
