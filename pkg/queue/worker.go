package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/metrics"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// Worker is a single queue worker that polls for and processes tasks.
type Worker struct {
	id         string
	instanceID string
	queue      *TaskQueue
	config     *config.QueueConfig
	executor   TaskExecutor
	pool       TaskRegistry
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	busy           bool
	currentTaskID  string
	startedAt      time.Time
	tasksProcessed int
}

// TaskRegistry is the subset of WorkerPool used by Worker for in-flight task
// registration.
type TaskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, instanceID string, queue *TaskQueue, cfg *config.QueueConfig, executor TaskExecutor, pool TaskRegistry) *Worker {
	return &Worker{
		id:         id,
		instanceID: instanceID,
		queue:      queue,
		config:     cfg,
		executor:   executor,
		pool:       pool,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// task. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Status returns the worker's liveness entry for queue stats.
func (w *Worker) Status() models.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := models.WorkerStatus{WorkerID: w.id, Busy: w.busy}
	if w.busy {
		taskID := w.currentTaskID
		startedAt := w.startedAt
		s.CurrentTask = &taskID
		s.StartedAt = &startedAt
	}
	return s
}

// Processed returns how many tasks this worker has finished.
func (w *Worker) Processed() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tasksProcessed
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
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
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one task and runs it to a terminal state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	task, err := w.queue.Claim(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "task_type", task.TaskType, "worker_id", w.id,
		"student_id", task.StudentID, "module_id", task.ModuleID, "attempt", task.Attempts)
	log.Info("Task claimed")

	w.setBusy(task.ID)
	defer w.setIdle()

	// Task context with timeout.
	taskCtx, cancelTask := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancelTask()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterTask(task.ID, cancelTask)
	defer w.pool.UnregisterTask(task.ID)

	// Lease heartbeat for the duration of the attempt.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	go w.runHeartbeat(heartbeatCtx, task.ID)

	start := time.Now()
	result := w.executor.Execute(taskCtx, task)
	elapsed := time.Since(start)
	cancelHeartbeat()

	// Normalize nil and context-shaped results; timeouts are transient.
	switch {
	case result == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		result = &ExecutionResult{Status: models.TaskStatusFailed,
			Error: context.DeadlineExceeded, Retryable: true}
	case result == nil && errors.Is(taskCtx.Err(), context.Canceled):
		result = &ExecutionResult{Status: models.TaskStatusCancelled, Error: context.Canceled}
	case result == nil:
		result = &ExecutionResult{Status: models.TaskStatusFailed,
			Error: errors.New("executor returned nil result")}
	case result.Status == models.TaskStatusFailed && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		result.Retryable = true
	}

	metrics.TaskDurationSeconds.WithLabelValues(string(task.TaskType)).Observe(elapsed.Seconds())

	// Terminal update uses a fresh context: the task context may be dead.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFinish()
	if err := w.finishTask(finishCtx, task, result); err != nil {
		log.Error("Failed to record task outcome", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	if result.Error != nil {
		log.Warn("Task finished", "status", result.Status, "elapsed", elapsed,
			"retryable", result.Retryable, "error", result.Error)
	} else {
		log.Info("Task finished", "status", result.Status, "elapsed", elapsed)
	}
	return nil
}

func (w *Worker) finishTask(ctx context.Context, task *models.GenerationTask, result *ExecutionResult) error {
	var err error
	switch result.Status {
	case models.TaskStatusCompleted:
		_, err = w.queue.Complete(ctx, task.ID, w.id)
	case models.TaskStatusCancelled:
		reason := "cancelled"
		if result.Error != nil {
			reason = result.Error.Error()
		}
		_, err = w.queue.MarkCancelled(ctx, task.ID, w.id, reason)
	default:
		msg := "unknown failure"
		if result.Error != nil {
			msg = result.Error.Error()
		}
		_, err = w.queue.Fail(ctx, task.ID, w.id, msg, result.Retryable)
	}
	return err
}

// runHeartbeat extends the task lease until the attempt ends. A failed
// renewal means the sweeper reclaimed the task; the executor's context keeps
// running but its terminal update will find the worker guard failed.
func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.RenewLease(ctx, taskID, w.id); err != nil {
				slog.Warn("Lease renewal failed", "task_id", taskID, "worker_id", w.id, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setBusy(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = true
	w.currentTaskID = taskID
	w.startedAt = time.Now()
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	w.currentTaskID = ""
}
