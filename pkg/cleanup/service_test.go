package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
	testdb "github.com/Luisdanielgm/sapiens-backend-sub002/test/database"
)

func setupService(t *testing.T) (*database.Client, *queue.TaskQueue, *budget.Ledger, *Service) {
	t.Helper()
	client := testdb.NewTestClient(t)
	taskQueue := queue.NewTaskQueue(client, config.DefaultQueueConfig())
	ledger := budget.NewLedger(client)

	cfg := &config.RetentionConfig{
		TaskRetentionDays:       30,
		FailedTaskRetentionDays: 90,
		AlertRetentionDays:      180,
		CleanupInterval:         1 * time.Hour,
	}
	return client, taskQueue, ledger, NewService(cfg, taskQueue, ledger)
}

func enqueueTerminalTask(t *testing.T, client *database.Client, q *queue.TaskQueue, status models.TaskStatus, completedAt time.Time) string {
	t.Helper()
	ctx := context.Background()

	task, created, err := q.Enqueue(ctx, queue.EnqueueInput{
		TaskType:  models.TaskTypeGenerate,
		StudentID: uuid.New().String(),
		ModuleID:  uuid.New().String(),
		Payload:   models.TaskPayload{TopicIDs: []string{uuid.New().String()}},
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = client.Pool().Exec(ctx,
		`UPDATE generation_tasks SET status = $1, completed_at = $2 WHERE id = $3`,
		status, completedAt, task.ID)
	require.NoError(t, err)
	return task.ID
}

func TestService_PurgesOldCompletedTasks(t *testing.T) {
	client, q, _, svc := setupService(t)
	ctx := context.Background()

	oldID := enqueueTerminalTask(t, client, q, models.TaskStatusCompleted, time.Now().AddDate(0, 0, -40))
	recentID := enqueueTerminalTask(t, client, q, models.TaskStatusCompleted, time.Now().AddDate(0, 0, -1))

	svc.runAll(ctx)

	_, err := q.Get(ctx, oldID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = q.Get(ctx, recentID)
	assert.NoError(t, err)
}

func TestService_KeepsFailedTasksLonger(t *testing.T) {
	client, q, _, svc := setupService(t)
	ctx := context.Background()

	// 40 days old: past the completed cutoff but inside the failed one.
	failedID := enqueueTerminalTask(t, client, q, models.TaskStatusFailed, time.Now().AddDate(0, 0, -40))
	ancientID := enqueueTerminalTask(t, client, q, models.TaskStatusFailed, time.Now().AddDate(0, 0, -100))

	svc.runAll(ctx)

	_, err := q.Get(ctx, failedID)
	assert.NoError(t, err)

	_, err = q.Get(ctx, ancientID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_PurgesOldAlerts(t *testing.T) {
	client, _, ledger, svc := setupService(t)
	ctx := context.Background()

	oldAlert := &models.BudgetAlert{
		AlertType: models.AlertGlobalDaily,
		Scope:     "global",
		Threshold: 0.8,
		UsageUSD:  80,
		LimitUSD:  100,
		DayBucket: "2026-01-01",
	}
	fired, err := ledger.InsertAlert(ctx, oldAlert)
	require.NoError(t, err)
	require.True(t, fired)

	_, err = client.Pool().Exec(ctx,
		`UPDATE budget_alerts SET created_at = $1 WHERE id = $2`,
		time.Now().AddDate(0, 0, -200), oldAlert.ID)
	require.NoError(t, err)

	recentAlert := &models.BudgetAlert{
		AlertType: models.AlertGlobalDaily,
		Scope:     "global",
		Threshold: 0.8,
		UsageUSD:  80,
		LimitUSD:  100,
		DayBucket: budget.DayBucket(time.Now().UTC()),
	}
	fired, err = ledger.InsertAlert(ctx, recentAlert)
	require.NoError(t, err)
	require.True(t, fired)

	svc.runAll(ctx)

	alerts, err := ledger.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, recentAlert.ID, alerts[0].ID)
}

func TestService_ExpiresStaleInFlightCalls(t *testing.T) {
	client, _, ledger, svc := setupService(t)
	ctx := context.Background()

	call, err := ledger.RegisterCall(ctx, &models.AICall{
		UserID:        uuid.New().String(),
		Provider:      "gemini",
		Model:         "gemini-2.0-flash",
		Feature:       "content_generation",
		PromptTokens:  1200,
		EstimatedCost: 0.004,
	})
	require.NoError(t, err)
	require.True(t, call.InFlight())

	_, err = client.Pool().Exec(ctx,
		`UPDATE ai_calls SET created_at = $1 WHERE id = $2`,
		time.Now().Add(-48*time.Hour), call.ID)
	require.NoError(t, err)

	svc.runAll(ctx)

	expired, err := ledger.GetCall(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, expired.Success)
	assert.False(t, *expired.Success)
	assert.Zero(t, expired.CostUSD(), "expired reservation must stop counting against budgets")
}

func TestService_StartStop(t *testing.T) {
	_, _, _, svc := setupService(t)

	svc.Start(context.Background())
	svc.Stop()
}
