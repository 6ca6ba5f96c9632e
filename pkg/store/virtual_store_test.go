package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func TestEnsureVirtualModule_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	vm, created, err := f.virtual.EnsureVirtualModule(ctx, studentID, f.plan.ID, f.module.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.GenerationStatusPending, vm.GenerationStatus)

	again, created, err := f.virtual.EnsureVirtualModule(ctx, studentID, f.plan.ID, f.module.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, vm.ID, again.ID)
}

func TestEnsureVirtualModule_UnknownModule(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.virtual.EnsureVirtualModule(context.Background(),
		uuid.New().String(), f.plan.ID, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetGenerationStatus_GuardsStaleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vm, _, _ := f.materialize(t, uuid.New().String())

	generating, err := f.virtual.SetGenerationStatus(ctx, vm.ID,
		models.GenerationStatusGenerating, nil, models.GenerationStatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusGenerating, generating.GenerationStatus)

	// Replaying the same pending->generating transition is stale.
	_, err = f.virtual.SetGenerationStatus(ctx, vm.ID,
		models.GenerationStatusGenerating, nil, models.GenerationStatusPending)
	assert.ErrorIs(t, err, ErrNotFound)

	msg := "provider unavailable"
	failed, err := f.virtual.SetGenerationStatus(ctx, vm.ID,
		models.GenerationStatusFailed, &msg, models.GenerationStatusGenerating)
	require.NoError(t, err)
	require.NotNil(t, failed.GenerationError)
	assert.Equal(t, msg, *failed.GenerationError)
}

func TestInsertVirtualTopic_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	vm, vt, _ := f.materialize(t, studentID)

	// Re-running the generation task hits the existing row.
	again, err := f.virtual.InsertVirtualTopic(ctx, f.virtual.Querier(), &models.VirtualTopic{
		VirtualModuleID: vm.ID,
		TopicID:         f.topic.ID,
		StudentID:       studentID,
		Name:            "a different name from the retry",
	})
	require.NoError(t, err)
	assert.Equal(t, vt.ID, again.ID)
	assert.Equal(t, f.topic.Name, again.Name, "first write wins")
}

func TestInsertVirtualTopic_LockedStatusFollowsFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	vm, _, err := f.virtual.EnsureVirtualModule(ctx, studentID, f.plan.ID, f.module.ID)
	require.NoError(t, err)

	locked := f.addPublishedTopic(t, "Cross product")
	vt, err := f.virtual.InsertVirtualTopic(ctx, f.virtual.Querier(), &models.VirtualTopic{
		VirtualModuleID: vm.ID,
		TopicID:         locked.ID,
		StudentID:       studentID,
		Name:            locked.Name,
		Order:           1,
		Locked:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.VirtualTopicStatusLocked, vt.Status)
}

func TestUnlockNextTopic_RequiresCompletedPredecessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	vm, vt, vc := f.materialize(t, studentID)

	second := f.addPublishedTopic(t, "Cross product")
	third := f.addPublishedTopic(t, "Projections")
	for i, topic := range []*models.Topic{second, third} {
		_, err := f.virtual.InsertVirtualTopic(ctx, f.virtual.Querier(), &models.VirtualTopic{
			VirtualModuleID: vm.ID,
			TopicID:         topic.ID,
			StudentID:       studentID,
			Name:            topic.Name,
			Order:           i + 1,
			Locked:          true,
		})
		require.NoError(t, err)
	}

	// The first topic is still active, so nothing further may open yet.
	_, err := f.virtual.UnlockNextTopic(ctx, vm.ID)
	assert.ErrorIs(t, err, ErrPredecessorIncomplete)

	_, err = f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            1.0,
	})
	require.NoError(t, err)
	completed, err := f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	unlocked, err := f.virtual.UnlockNextTopic(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, unlocked.TopicID)
	assert.False(t, unlocked.Locked)
	assert.Equal(t, models.VirtualTopicStatusActive, unlocked.Status)

	// Unlocking again without finishing the second topic is refused; the
	// third stays locked until its predecessor completes.
	_, err = f.virtual.UnlockNextTopic(ctx, vm.ID)
	assert.ErrorIs(t, err, ErrPredecessorIncomplete)

	_, err = f.virtual.Querier().Exec(ctx, `
		UPDATE virtual_topics
		SET progress = 1, status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1`, unlocked.ID)
	require.NoError(t, err)

	unlocked, err = f.virtual.UnlockNextTopic(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, unlocked.TopicID)

	_, err = f.virtual.UnlockNextTopic(ctx, vm.ID)
	assert.ErrorIs(t, err, ErrNoLockedTopics)
}

func TestUnlockNextTopic_FirstTopicHasNoPredecessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	vm, _, err := f.virtual.EnsureVirtualModule(ctx, studentID, f.plan.ID, f.module.ID)
	require.NoError(t, err)
	vt, err := f.virtual.InsertVirtualTopic(ctx, f.virtual.Querier(), &models.VirtualTopic{
		VirtualModuleID: vm.ID,
		TopicID:         f.topic.ID,
		StudentID:       studentID,
		Name:            f.topic.Name,
		Order:           f.topic.Order,
		Locked:          true,
	})
	require.NoError(t, err)

	unlocked, err := f.virtual.UnlockNextTopic(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, vt.ID, unlocked.ID)
	assert.False(t, unlocked.Locked)
}

func TestLockAndRestoreTopicsBySource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	_, vt, vc := f.materialize(t, studentID)

	// Partial progress before the topic is retracted.
	_, err := f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            0.4,
	})
	require.NoError(t, err)
	_, err = f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)

	n, err := f.virtual.LockTopicsBySource(ctx, studentID, []string{f.topic.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hidden, err := f.virtual.GetVirtualTopic(ctx, vt.ID)
	require.NoError(t, err)
	assert.True(t, hidden.Locked)
	assert.Equal(t, models.VirtualTopicStatusLocked, hidden.Status)
	assert.InDelta(t, 0.4, hidden.Progress, 1e-9, "progress survives retraction")

	n, err = f.virtual.RestoreTopicsBySource(ctx, studentID, []string{f.topic.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored, err := f.virtual.GetVirtualTopic(ctx, vt.ID)
	require.NoError(t, err)
	assert.False(t, restored.Locked)
	assert.Equal(t, models.VirtualTopicStatusActive, restored.Status, "in-progress topics come back active")
}

func TestRecomputeTopicProgress_MonotoneAndCompleting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	_, vt, vc := f.materialize(t, studentID)

	base := time.Now().UTC()
	_, err := f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            0.6,
		RecordedAt:            base,
	})
	require.NoError(t, err)
	updated, err := f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, updated.Progress, 1e-9)
	assert.Equal(t, models.VirtualTopicStatusActive, updated.Status)

	// A worse later attempt cannot lower progress: best completion is 0.6.
	_, err = f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            0.2,
		RecordedAt:            base.Add(time.Minute),
	})
	require.NoError(t, err)
	updated, err = f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, updated.Progress, 1e-9)

	_, err = f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            1.0,
		RecordedAt:            base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	updated, err = f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, updated.Progress, 1e-9)
	assert.Equal(t, models.VirtualTopicStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestRecomputeTopicProgress_AveragesActiveContents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	_, vt, vc := f.materialize(t, studentID)

	quiz, err := f.contents.CreateContent(ctx, models.CreateContentRequest{
		TopicID:     f.topic.ID,
		ContentType: models.ContentTypeQuiz,
		Payload:     map[string]any{"questions": []any{}},
	})
	require.NoError(t, err)
	vquiz, err := f.virtual.UpsertVirtualContent(ctx, f.virtual.Querier(), &models.VirtualTopicContent{
		VirtualTopicID: vt.ID,
		TopicContentID: quiz.ID,
		StudentID:      studentID,
		ContentType:    quiz.ContentType,
		Payload:        map[string]any{"questions": []any{}},
		SourceVersion:  quiz.Version,
	})
	require.NoError(t, err)

	// Slide done, quiz untouched: topic sits at the mean of (1.0, 0).
	_, err = f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            1.0,
	})
	require.NoError(t, err)
	updated, err := f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, updated.Progress, 1e-9)

	_, err = f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vquiz.ID,
		StudentID:             studentID,
		Completion:            1.0,
	})
	require.NoError(t, err)
	updated, err = f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, updated.Progress, 1e-9)
}

func TestRecomputeModuleProgress_PublishedCountDenominator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	vm, vt, vc := f.materialize(t, studentID)

	// Module has 3 published topics; only the first is materialized.
	f.addPublishedTopic(t, "Cross product")
	f.addPublishedTopic(t, "Projections")

	_, err := f.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             studentID,
		Completion:            1.0,
	})
	require.NoError(t, err)
	_, err = f.virtual.RecomputeTopicProgress(ctx, vt.ID)
	require.NoError(t, err)

	count, err := f.contents.PublishedTopicCount(ctx, f.module.ID)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	updated, err := f.virtual.RecomputeModuleProgress(ctx, vm.ID, count)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, updated.Progress, 1e-9,
		"unmaterialized published topics still weigh the denominator")
}

func TestUpsertVirtualContent_MergesAndRevives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	_, vt, vc := f.materialize(t, studentID)

	n, err := f.virtual.MarkContentsDeletedBySource(ctx, studentID, []string{f.content.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	listed, err := f.virtual.ListVirtualContents(ctx, vt.ID)
	require.NoError(t, err)
	assert.Empty(t, listed, "deleted contents disappear from the student view")

	// A refresh after re-adding the source revives the same row.
	revived, err := f.virtual.UpsertVirtualContent(ctx, f.virtual.Querier(), &models.VirtualTopicContent{
		VirtualTopicID: vt.ID,
		TopicContentID: f.content.ID,
		StudentID:      studentID,
		ContentType:    f.content.ContentType,
		Payload:        map[string]any{"title": "Definition, round two"},
		SourceVersion:  f.content.Version + 1,
	})
	require.NoError(t, err)
	assert.Equal(t, vc.ID, revived.ID)
	assert.Equal(t, models.ContentStatusActive, revived.Status)
	assert.Equal(t, f.content.Version+1, revived.SourceVersion)
}

func TestStaleContents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()
	_, _, vc := f.materialize(t, studentID)

	stale, err := f.virtual.StaleContents(ctx, studentID, []string{f.content.ID})
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = f.contents.UpdateContent(ctx, f.content.ID, models.UpdateContentRequest{
		Payload: map[string]any{"title": "Definition, edited"},
	})
	require.NoError(t, err)

	stale, err = f.virtual.StaleContents(ctx, studentID, []string{f.content.ID})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, vc.ID, stale[0].ID)
}

func TestActiveStudentPlansAndFanOutQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := uuid.New().String()
	bob := uuid.New().String()
	_, _, aliceContent := f.materialize(t, alice)
	f.materialize(t, bob)

	pairs, err := f.virtual.ActiveStudentPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)

	students, err := f.virtual.StudentsWithModule(ctx, f.module.ID,
		models.GenerationStatusPending, models.GenerationStatusReady)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, students)

	holders, err := f.virtual.StudentsWithContent(ctx, f.content.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, holders)

	// Alice's copy goes away; only Bob still holds the content.
	_, err = f.virtual.MarkContentsDeletedBySource(ctx, alice, []string{aliceContent.TopicContentID})
	require.NoError(t, err)
	holders, err = f.virtual.StudentsWithContent(ctx, f.content.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob}, holders)
}
