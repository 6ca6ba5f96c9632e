package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
	testdb "github.com/Luisdanielgm/sapiens-backend-sub002/test/database"
)

func setupQueue(t *testing.T, mutate func(*config.QueueConfig)) *TaskQueue {
	t.Helper()
	cfg := config.DefaultQueueConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewTaskQueue(testdb.NewTestClient(t), cfg)
}

func generateInput() EnqueueInput {
	return EnqueueInput{
		TaskType:  models.TaskTypeGenerate,
		StudentID: uuid.New().String(),
		ModuleID:  uuid.New().String(),
		Payload:   models.TaskPayload{TopicIDs: []string{uuid.New().String(), uuid.New().String()}},
	}
}

func TestFingerprint_TopicOrderIndependent(t *testing.T) {
	a := Fingerprint(models.TaskPayload{TopicIDs: []string{"t1", "t2", "t3"}})
	b := Fingerprint(models.TaskPayload{TopicIDs: []string{"t3", "t1", "t2"}})
	assert.Equal(t, a, b)

	c := Fingerprint(models.TaskPayload{TopicIDs: []string{"t1", "t2"}})
	assert.NotEqual(t, a, c)
}

func TestFingerprint_IgnoresReason(t *testing.T) {
	a := Fingerprint(models.TaskPayload{TopicIDs: []string{"t1"}, Reason: "initial batch"})
	b := Fingerprint(models.TaskPayload{TopicIDs: []string{"t1"}, Reason: "threshold crossed"})
	assert.Equal(t, a, b)
}

func TestEnqueue_DedupesLiveTasks(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()
	in := generateInput()

	first, created, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	// Same logical request with reordered topic ids hits the live task.
	in.Payload.TopicIDs = []string{in.Payload.TopicIDs[1], in.Payload.TopicIDs[0]}
	second, created, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different payload is a new request.
	in.Payload.TopicIDs = append(in.Payload.TopicIDs, uuid.New().String())
	third, created, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestEnqueue_RejectsUnknownTaskType(t *testing.T) {
	q := setupQueue(t, nil)

	in := generateInput()
	in.TaskType = "defragment"
	_, _, err := q.Enqueue(context.Background(), in)

	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEnqueue_SyncTasksGetPriorityBoost(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	in := generateInput()
	in.TaskType = models.TaskTypeSyncContentChange
	in.Payload = models.TaskPayload{ContentIDs: []string{uuid.New().String()}, Kind: models.SyncKindRefresh}
	task, _, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, q.cfg.DefaultPriority+q.cfg.SyncPriorityBoost, task.Priority)
}

func TestClaim_OrdersByPriorityThenAge(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	low := 9
	lowTask, _, err := q.Enqueue(ctx, func() EnqueueInput { in := generateInput(); in.Priority = &low; return in }())
	require.NoError(t, err)

	high := 1
	highTask, _, err := q.Enqueue(ctx, func() EnqueueInput { in := generateInput(); in.Priority = &high; return in }())
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)
	assert.Equal(t, highTask.ID, claimed.ID, "lower priority value dequeues first")
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.LeaseExpiresAt)

	claimed, err = q.Claim(ctx, "pod-a-worker-1")
	require.NoError(t, err)
	assert.Equal(t, lowTask.ID, claimed.ID)

	_, err = q.Claim(ctx, "pod-a-worker-2")
	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestClaim_RespectsDelay(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	in := generateInput()
	in.Delay = time.Hour
	_, _, err := q.Enqueue(ctx, in)
	require.NoError(t, err)

	_, err = q.Claim(ctx, "pod-a-worker-0")
	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestCompleteRequiresOwningWorker(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	_, err = q.Complete(ctx, task.ID, "pod-b-worker-0")
	assert.ErrorIs(t, err, store.ErrNotFound)

	done, err := q.Complete(ctx, task.ID, "pod-a-worker-0")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
}

func TestFail_RetryableRequeuesWithBackoff(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	failed, err := q.Fail(ctx, task.ID, "pod-a-worker-0", "provider timeout", true)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, failed.Status)
	assert.Equal(t, 1, failed.Attempts, "attempts survive a requeue")
	assert.True(t, failed.ScheduledAt.After(time.Now().UTC()), "backoff pushes the next attempt into the future")
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "provider timeout", *failed.LastError)
}

func TestFail_TerminalWhenAttemptsExhausted(t *testing.T) {
	q := setupQueue(t, func(cfg *config.QueueConfig) { cfg.MaxAttempts = 1 })
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	failed, err := q.Fail(ctx, task.ID, "pod-a-worker-0", "provider timeout", true)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.NotNil(t, failed.CompletedAt)
}

func TestFail_NonRetryableIsTerminal(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	failed, err := q.Fail(ctx, task.ID, "pod-a-worker-0", "budget exceeded", false)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
}

func TestSweepExpiredLeases(t *testing.T) {
	// Negative lease duration makes every claim instantly sweepable.
	q := setupQueue(t, func(cfg *config.QueueConfig) { cfg.LeaseDuration = -1 * time.Minute })
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	reclaimed, failed, err := q.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 0, failed)

	requeued, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, requeued.Status)
	assert.Nil(t, requeued.WorkerID)
}

func TestSweepExpiredLeases_FailsExhaustedTasks(t *testing.T) {
	q := setupQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = -1 * time.Minute
		cfg.MaxAttempts = 1
	})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	reclaimed, failed, err := q.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 1, failed)

	dead, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, dead.Status)
}

func TestRenewLease_GuardsAgainstReclaimedTasks(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	task, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)

	require.NoError(t, q.RenewLease(ctx, task.ID, "pod-a-worker-0"))
	assert.ErrorIs(t, q.RenewLease(ctx, task.ID, "pod-b-worker-0"), store.ErrNotFound)
}

func TestReclaimAbandoned_OnlyOwnInstance(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, generateInput())
	require.NoError(t, err)

	mine, err := q.Claim(ctx, "pod-a-worker-0")
	require.NoError(t, err)
	theirs, err := q.Claim(ctx, "pod-b-worker-0")
	require.NoError(t, err)

	count, err := q.ReclaimAbandoned(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reclaimed, err := q.Get(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, reclaimed.Status)

	untouched, err := q.Get(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, untouched.Status)
}

func TestCancelPending(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)

	cancelled, err := q.CancelPending(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)

	// Already terminal: not cancellable again.
	_, err = q.CancelPending(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetry_RequeuesTerminalTask(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)
	_, err = q.CancelPending(ctx, task.ID)
	require.NoError(t, err)

	retried, err := q.Retry(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, retried.ID)
	assert.Equal(t, models.TaskStatusPending, retried.Status)
	assert.Equal(t, 0, retried.Attempts)
	assert.Nil(t, retried.LastError)
}

func TestRetry_RejectsLiveTask(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, generateInput())
	require.NoError(t, err)

	_, err = q.Retry(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetry_ReturnsLiveDuplicate(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()
	in := generateInput()

	task, _, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	_, err = q.CancelPending(ctx, task.ID)
	require.NoError(t, err)

	// The same request was re-enqueued while the first row sat cancelled.
	live, created, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	got, err := q.Retry(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID, "retry defers to the already-live task")

	original, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, original.Status)
}

func TestListTasksAndStats(t *testing.T) {
	q := setupQueue(t, nil)
	ctx := context.Background()

	in := generateInput()
	task, _, err := q.Enqueue(ctx, in)
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, generateInput())
	require.NoError(t, err)

	byStudent, err := q.ListTasks(ctx, TaskFilter{StudentID: in.StudentID})
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
	assert.Equal(t, task.ID, byStudent[0].ID)

	pending, err := q.ListTasks(ctx, TaskFilter{Status: models.TaskStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.ByType[string(models.TaskTypeGenerate)])
}

func TestRetryDelay_Bounds(t *testing.T) {
	q := NewTaskQueue(nil, config.DefaultQueueConfig())

	first := q.RetryDelay(1)
	assert.InDelta(t, float64(30*time.Second), float64(first), float64(30*time.Second)*0.2)

	// Deep attempts hit the cap (within jitter).
	deep := q.RetryDelay(20)
	assert.InDelta(t, float64(30*time.Minute), float64(deep), float64(30*time.Minute)*0.2)
}
