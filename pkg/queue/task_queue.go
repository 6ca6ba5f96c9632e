package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/metrics"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// TaskQueue is the durable queue of generation tasks. Claiming uses
// FOR UPDATE SKIP LOCKED so replicas never hand the same task to two
// workers; liveness is tracked with worker leases.
type TaskQueue struct {
	db  *database.Client
	cfg *config.QueueConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewTaskQueue creates a new TaskQueue
func NewTaskQueue(db *database.Client, cfg *config.QueueConfig) *TaskQueue {
	return &TaskQueue{db: db, cfg: cfg, now: time.Now}
}

const taskColumns = `id, task_type, student_id, module_id, payload, payload_fingerprint, priority, status, attempts, max_attempts, scheduled_at, lease_expires_at, worker_id, last_error, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := row.Scan(&t.ID, &t.TaskType, &t.StudentID, &t.ModuleID, &t.Payload, &t.PayloadFingerprint,
		&t.Priority, &t.Status, &t.Attempts, &t.MaxAttempts, &t.ScheduledAt, &t.LeaseExpiresAt,
		&t.WorkerID, &t.LastError, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: generation task", store.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// Fingerprint hashes a payload for live-task deduplication. Topic and
// content id sets hash order-independently.
func Fingerprint(p models.TaskPayload) string {
	h, err := hashstructure.Hash(p, hashstructure.FormatV2, nil)
	if err != nil {
		// Hash only fails on unsupported types, which TaskPayload has none of.
		return "0"
	}
	return fmt.Sprintf("%016x", h)
}

// EnqueueInput describes one logical generation request.
type EnqueueInput struct {
	TaskType  models.TaskType
	StudentID string
	ModuleID  string
	Payload   models.TaskPayload

	// Priority overrides the type-derived default when non-nil.
	Priority *int

	// Delay postpones the first claim; zero means eligible immediately.
	Delay time.Duration
}

// Enqueue inserts a task, or returns the already-live task for the same
// logical request. The second return reports whether a new task was created.
func (q *TaskQueue) Enqueue(ctx context.Context, in EnqueueInput) (*models.GenerationTask, bool, error) {
	if !in.TaskType.IsValid() {
		return nil, false, store.NewValidationError("task_type", "unknown task type")
	}
	priority := q.cfg.DefaultPriority
	if in.TaskType == models.TaskTypeSyncContentChange {
		priority += q.cfg.SyncPriorityBoost
	}
	if in.Priority != nil {
		priority = *in.Priority
	}
	fingerprint := Fingerprint(in.Payload)
	scheduledAt := q.now().UTC().Add(in.Delay)

	row := q.db.Pool().QueryRow(ctx, `
		INSERT INTO generation_tasks
			(id, task_type, student_id, module_id, payload, payload_fingerprint, priority, max_attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+taskColumns,
		uuid.New().String(), in.TaskType, in.StudentID, in.ModuleID, in.Payload,
		fingerprint, priority, q.cfg.MaxAttempts, scheduledAt)
	task, err := scanTask(row)
	if err == nil {
		metrics.TasksEnqueuedTotal.WithLabelValues(string(in.TaskType)).Inc()
		return task, true, nil
	}
	if !database.IsUniqueViolation(err, "uq_generation_tasks_live") {
		return nil, false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	// A live task for the same request already exists; hand it back.
	existing, err := q.findLive(ctx, in.TaskType, in.StudentID, in.ModuleID, fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (q *TaskQueue) findLive(ctx context.Context, taskType models.TaskType, studentID, moduleID, fingerprint string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE task_type = $1 AND student_id = $2 AND module_id = $3
		  AND payload_fingerprint = $4 AND status IN ('pending', 'processing')`,
		taskType, studentID, moduleID, fingerprint)
	return scanTask(row)
}

// Claim hands the next due pending task to a worker and opens its lease.
// Returns ErrNoTasksAvailable when nothing is due. Attempts count claims, so
// the first claim makes attempts 1.
func (q *TaskQueue) Claim(ctx context.Context, workerID string) (*models.GenerationTask, error) {
	leaseUntil := q.now().UTC().Add(q.cfg.LeaseDuration)
	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'processing',
		    worker_id = $1,
		    lease_expires_at = $2,
		    attempts = attempts + 1,
		    updated_at = now()
		WHERE id = (
			SELECT id FROM generation_tasks
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY priority ASC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		workerID, leaseUntil)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

// RenewLease extends a claimed task's lease. The worker guard means a
// reclaimed task silently stops renewing, which is the desired outcome.
func (q *TaskQueue) RenewLease(ctx context.Context, taskID, workerID string) error {
	leaseUntil := q.now().UTC().Add(q.cfg.LeaseDuration)
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE generation_tasks
		SET lease_expires_at = $3, updated_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'`,
		taskID, workerID, leaseUntil)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s no longer leased to %s", store.ErrNotFound, taskID, workerID)
	}
	return nil
}

// Complete finishes a task successfully.
func (q *TaskQueue) Complete(ctx context.Context, taskID, workerID string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'completed', completed_at = now(), lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING `+taskColumns,
		taskID, workerID)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	metrics.TasksFinishedTotal.WithLabelValues(string(task.TaskType), "completed").Inc()
	return task, nil
}

// Fail records a failed attempt. Retryable failures below the attempt
// ceiling are re-scheduled with exponential backoff; everything else is
// terminal.
func (q *TaskQueue) Fail(ctx context.Context, taskID, workerID, errMsg string, retryable bool) (*models.GenerationTask, error) {
	current, err := q.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if retryable && current.Attempts < current.MaxAttempts {
		nextAt := q.now().UTC().Add(q.RetryDelay(current.Attempts))
		row := q.db.Pool().QueryRow(ctx, `
			UPDATE generation_tasks
			SET status = 'pending', scheduled_at = $3, lease_expires_at = NULL,
			    worker_id = NULL, last_error = $4, updated_at = now()
			WHERE id = $1 AND worker_id = $2 AND status = 'processing'
			RETURNING `+taskColumns,
			taskID, workerID, nextAt, errMsg)
		task, err := scanTask(row)
		if err != nil {
			return nil, err
		}
		metrics.TasksRetriedTotal.WithLabelValues(string(task.TaskType)).Inc()
		return task, nil
	}

	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'failed', completed_at = now(), lease_expires_at = NULL,
		    last_error = $3, updated_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING `+taskColumns,
		taskID, workerID, errMsg)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	metrics.TasksFinishedTotal.WithLabelValues(string(task.TaskType), "failed").Inc()
	return task, nil
}

// MarkCancelled finishes a processing task as cancelled (worker-side, after
// in-flight cancellation).
func (q *TaskQueue) MarkCancelled(ctx context.Context, taskID, workerID, reason string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'cancelled', completed_at = now(), lease_expires_at = NULL,
		    last_error = $3, updated_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING `+taskColumns,
		taskID, workerID, reason)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	metrics.TasksFinishedTotal.WithLabelValues(string(task.TaskType), "cancelled").Inc()
	return task, nil
}

// CancelPending cancels a task that has not been claimed yet. Processing
// tasks need the worker pool's in-flight cancellation instead.
func (q *TaskQueue) CancelPending(ctx context.Context, taskID string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'cancelled', completed_at = now(), last_error = 'cancelled by operator', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns,
		taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	metrics.TasksFinishedTotal.WithLabelValues(string(task.TaskType), "cancelled").Inc()
	return task, nil
}

// Retry re-queues a failed or cancelled task with a fresh attempt budget.
// Dedupe applies: if a live task for the same request appeared meanwhile,
// the retried row stays terminal and the live one is returned.
func (q *TaskQueue) Retry(ctx context.Context, taskID string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx, `
		UPDATE generation_tasks
		SET status = 'pending', attempts = 0, scheduled_at = now(), completed_at = NULL,
		    lease_expires_at = NULL, worker_id = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'cancelled')
		RETURNING `+taskColumns,
		taskID)
	task, err := scanTask(row)
	if err == nil {
		metrics.TasksEnqueuedTotal.WithLabelValues(string(task.TaskType)).Inc()
		return task, nil
	}
	if database.IsUniqueViolation(err, "uq_generation_tasks_live") {
		current, getErr := q.Get(ctx, taskID)
		if getErr != nil {
			return nil, getErr
		}
		return q.findLive(ctx, current.TaskType, current.StudentID, current.ModuleID, current.PayloadFingerprint)
	}
	return nil, err
}

// Get fetches one task by id.
func (q *TaskQueue) Get(ctx context.Context, taskID string) (*models.GenerationTask, error) {
	row := q.db.Pool().QueryRow(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1`, taskID)
	return scanTask(row)
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status    models.TaskStatus
	TaskType  models.TaskType
	StudentID string
	Limit     int
}

// ListTasks returns tasks newest first, optionally filtered.
func (q *TaskQueue) ListTasks(ctx context.Context, f TaskFilter) ([]models.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM generation_tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.TaskType != "" {
		args = append(args, f.TaskType)
		query += fmt.Sprintf(` AND task_type = $%d`, len(args))
	}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		query += fmt.Sprintf(` AND student_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Stats counts tasks per status and live tasks per type.
func (q *TaskQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := q.db.Pool().Query(ctx,
		`SELECT status, task_type, COUNT(*) FROM generation_tasks GROUP BY status, task_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{ByType: map[string]int{}}
	for rows.Next() {
		var status models.TaskStatus
		var taskType string
		var count int
		if err := rows.Scan(&status, &taskType, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.TaskStatusPending:
			stats.Pending += count
			stats.ByType[taskType] += count
		case models.TaskStatusProcessing:
			stats.Processing += count
			stats.ByType[taskType] += count
		case models.TaskStatusCompleted:
			stats.Completed += count
		case models.TaskStatusFailed:
			stats.Failed += count
		case models.TaskStatusCancelled:
			stats.Cancelled += count
		}
	}
	return stats, rows.Err()
}

// SweepExpiredLeases reclaims processing tasks whose worker stopped
// heartbeating: back to pending while attempts remain, terminal failure
// otherwise. Also refreshes the queue depth gauges.
func (q *TaskQueue) SweepExpiredLeases(ctx context.Context) (reclaimed, failed int, err error) {
	err = q.db.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE generation_tasks
			SET status = 'failed', completed_at = now(), lease_expires_at = NULL,
			    last_error = COALESCE(last_error, '') || ' [lease expired, attempts exhausted]',
			    updated_at = now()
			WHERE status = 'processing' AND lease_expires_at < now() AND attempts >= max_attempts
			RETURNING task_type`)
		if err != nil {
			return fmt.Errorf("failed to fail expired tasks: %w", err)
		}
		failedTypes, err := collectTypes(rows)
		if err != nil {
			return err
		}
		failed = len(failedTypes)
		for _, t := range failedTypes {
			metrics.TasksFinishedTotal.WithLabelValues(t, "failed").Inc()
		}

		rows, err = tx.Query(ctx, `
			UPDATE generation_tasks
			SET status = 'pending', scheduled_at = now(), lease_expires_at = NULL,
			    worker_id = NULL, last_error = 'lease expired, requeued', updated_at = now()
			WHERE status = 'processing' AND lease_expires_at < now() AND attempts < max_attempts
			RETURNING task_type`)
		if err != nil {
			return fmt.Errorf("failed to requeue expired tasks: %w", err)
		}
		reclaimedTypes, err := collectTypes(rows)
		if err != nil {
			return err
		}
		reclaimed = len(reclaimedTypes)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if reclaimed > 0 {
		metrics.LeasesReclaimedTotal.Add(float64(reclaimed))
	}
	q.refreshDepthGauges(ctx)
	return reclaimed, failed, nil
}

func collectTypes(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (q *TaskQueue) refreshDepthGauges(ctx context.Context) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
}

// ReclaimAbandoned requeues processing tasks left behind by this instance's
// previous run. Called once at startup, before workers start; tasks are
// idempotent so an immediate re-run is safe.
func (q *TaskQueue) ReclaimAbandoned(ctx context.Context, instanceID string) (int, error) {
	tag, err := q.db.Pool().Exec(ctx, `
		UPDATE generation_tasks
		SET status = 'pending', scheduled_at = now(), lease_expires_at = NULL,
		    worker_id = NULL, last_error = 'instance restarted mid-task', updated_at = now()
		WHERE status = 'processing' AND worker_id LIKE $1`,
		instanceID+"-%")
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim abandoned tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeTerminal deletes old terminal tasks. Failed tasks can use a longer
// cutoff since they carry diagnostic value.
func (q *TaskQueue) PurgeTerminal(ctx context.Context, completedCutoff, failedCutoff time.Time) (int, error) {
	tag, err := q.db.Pool().Exec(ctx, `
		DELETE FROM generation_tasks
		WHERE (status IN ('completed', 'cancelled') AND completed_at < $1)
		   OR (status = 'failed' AND completed_at < $2)`,
		completedCutoff, failedCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RetryDelay computes the jittered exponential backoff for a retry after the
// given (1-based) attempt count.
func (q *TaskQueue) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(q.cfg.RetryBackoffBase) * math.Pow(2, float64(attempts-1))
	if ceiling := float64(q.cfg.RetryBackoffCap); delay > ceiling {
		delay = ceiling
	}
	if f := q.cfg.RetryJitterFraction; f > 0 {
		delta := delay * f
		delay = delay - delta + rand.Float64()*2*delta
	}
	return time.Duration(delay)
}
