package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func TestCreateStudyPlan_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.contents.CreateStudyPlan(ctx, models.CreateStudyPlanRequest{AuthorID: uuid.New().String()})
	assert.True(t, IsValidationError(err))

	_, err = f.contents.CreateStudyPlan(ctx, models.CreateStudyPlanRequest{Title: "Untitled"})
	assert.True(t, IsValidationError(err))
}

func TestUpdateStudyPlan_PartialFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status := models.PlanStatusActive
	updated, err := f.contents.UpdateStudyPlan(ctx, f.plan.ID, models.UpdateStudyPlanRequest{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusActive, updated.Status)
	assert.Equal(t, f.plan.Title, updated.Title, "unset fields keep their values")

	_, err = f.contents.UpdateStudyPlan(ctx, uuid.New().String(), models.UpdateStudyPlanRequest{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStudyPlans_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherAuthor := uuid.New().String()
	_, err := f.contents.CreateStudyPlan(ctx, models.CreateStudyPlanRequest{
		Title:    "Calculus",
		AuthorID: otherAuthor,
	})
	require.NoError(t, err)

	all, err := f.contents.ListStudyPlans(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.contents.ListStudyPlans(ctx, f.plan.AuthorID, nil)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.plan.ID, mine[0].ID)
}

func TestCreateModule_OrderDefaultsToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.contents.CreateModule(ctx, models.CreateModuleRequest{
		StudyPlanID: f.plan.ID,
		Name:        "Matrices",
	})
	require.NoError(t, err)
	assert.Greater(t, second.Order, f.module.Order)

	modules, err := f.contents.ListModulesByPlan(ctx, f.plan.ID)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, f.module.ID, modules[0].ID)
	assert.Equal(t, second.ID, modules[1].ID)
}

func TestCreateModule_DefaultSettings(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, models.DefaultVirtualizationSettings(), f.module.Settings)
}

func TestUpdateModule_VirtualizationSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := 3
	threshold := 0.6
	updated, err := f.contents.UpdateModule(ctx, f.module.ID, models.UpdateModuleRequest{
		InitialBatchSize:    &batch,
		GenerationThreshold: &threshold,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Settings.InitialBatchSize)
	assert.InDelta(t, 0.6, updated.Settings.GenerationThreshold, 1e-9)
	assert.Equal(t, f.module.Name, updated.Name)
}

func TestPublishAndRetractTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	topic, err := f.contents.CreateTopic(ctx, models.CreateTopicRequest{
		ModuleID: f.module.ID,
		Name:     "Norms",
	})
	require.NoError(t, err)
	assert.False(t, topic.Published, "topics start unpublished")

	published, wasPublished, err := f.contents.SetTopicPublished(ctx, topic.ID, true)
	require.NoError(t, err)
	assert.True(t, published.Published)
	assert.False(t, wasPublished)

	count, err := f.contents.PublishedTopicCount(ctx, f.module.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-publishing is a no-op transition: the prior flag comes back true.
	_, wasPublished, err = f.contents.SetTopicPublished(ctx, topic.ID, true)
	require.NoError(t, err)
	assert.True(t, wasPublished)

	_, wasPublished, err = f.contents.SetTopicPublished(ctx, topic.ID, false)
	require.NoError(t, err)
	assert.True(t, wasPublished)
	count, err = f.contents.PublishedTopicCount(ctx, f.module.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateContent_QuizUniquePerTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quiz, err := f.contents.CreateContent(ctx, models.CreateContentRequest{
		TopicID:     f.topic.ID,
		ContentType: models.ContentTypeQuiz,
		Payload:     map[string]any{"questions": []any{}},
	})
	require.NoError(t, err)

	_, err = f.contents.CreateContent(ctx, models.CreateContentRequest{
		TopicID:     f.topic.ID,
		ContentType: models.ContentTypeQuiz,
		Payload:     map[string]any{"questions": []any{}},
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Soft-deleting the quiz frees the slot.
	_, err = f.contents.SoftDeleteContent(ctx, quiz.ID)
	require.NoError(t, err)
	_, err = f.contents.CreateContent(ctx, models.CreateContentRequest{
		TopicID:     f.topic.ID,
		ContentType: models.ContentTypeQuiz,
		Payload:     map[string]any{"questions": []any{}},
	})
	assert.NoError(t, err)
}

func TestCreateContent_SlideOrderCollision(t *testing.T) {
	f := newFixture(t)

	_, err := f.contents.CreateContent(context.Background(), models.CreateContentRequest{
		TopicID:     f.topic.ID,
		ContentType: models.ContentTypeSlide,
		Order:       f.content.Order,
		Payload:     map[string]any{"title": "Another slide in the same slot"},
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateContent_VersionBumpsOnPayloadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := 4
	moved, err := f.contents.UpdateContent(ctx, f.content.ID, models.UpdateContentRequest{Order: &order})
	require.NoError(t, err)
	assert.Equal(t, f.content.Version, moved.Version, "reordering does not invalidate adaptations")

	edited, err := f.contents.UpdateContent(ctx, f.content.ID, models.UpdateContentRequest{
		Payload: map[string]any{"title": "Definition, revised"},
	})
	require.NoError(t, err)
	assert.Equal(t, f.content.Version+1, edited.Version)

	_, err = f.contents.UpdateContent(ctx, f.content.ID, models.UpdateContentRequest{})
	assert.True(t, IsValidationError(err))
}

func TestSoftDeleteContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deleted, err := f.contents.SoftDeleteContent(ctx, f.content.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentStatusDeleted, deleted.Status)

	// Already deleted: no active row to touch.
	_, err = f.contents.SoftDeleteContent(ctx, f.content.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := f.contents.ListContentsByTopic(ctx, f.topic.ID, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	withDeleted, err := f.contents.ListContentsByTopic(ctx, f.topic.ID, true)
	require.NoError(t, err)
	assert.Len(t, withDeleted, 1)
}

func TestPublishedTopicInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unpublished topics stay out of the inventory.
	_, err := f.contents.CreateTopic(ctx, models.CreateTopicRequest{
		ModuleID: f.module.ID,
		Name:     "Draft topic",
	})
	require.NoError(t, err)

	inventory, err := f.contents.PublishedTopicInventory(ctx, f.module.ID)
	require.NoError(t, err)
	require.Len(t, inventory, 1)
	assert.Equal(t, f.topic.ID, inventory[0].Topic.ID)
	require.Len(t, inventory[0].Contents[models.ContentTypeSlide], 1)
	assert.Equal(t, f.content.ID, inventory[0].Contents[models.ContentTypeSlide][0].ID)
}

func TestVirtualizationReadiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	studentID := uuid.New().String()

	readiness, err := f.contents.VirtualizationReadiness(ctx, f.module.ID, "")
	require.NoError(t, err)
	assert.True(t, readiness.Ready())
	assert.Equal(t, 1, readiness.PublishedTopicCount)
	assert.Equal(t, 1, readiness.TotalTopicCount)
	assert.Empty(t, readiness.GenerationStatus)

	f.materialize(t, studentID)
	readiness, err = f.contents.VirtualizationReadiness(ctx, f.module.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusPending, readiness.GenerationStatus)

	// A module with no published topics is not ready.
	bare, err := f.contents.CreateModule(ctx, models.CreateModuleRequest{
		StudyPlanID: f.plan.ID,
		Name:        "Empty module",
	})
	require.NoError(t, err)
	readiness, err = f.contents.VirtualizationReadiness(ctx, bare.ID, "")
	require.NoError(t, err)
	assert.False(t, readiness.Ready())
}

func TestDeleteStudyPlan_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.contents.DeleteStudyPlan(ctx, f.plan.ID))

	_, err := f.contents.GetModule(ctx, f.module.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.contents.GetContent(ctx, f.content.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
