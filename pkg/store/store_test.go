package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/secrets"
	testdb "github.com/Luisdanielgm/sapiens-backend-sub002/test/database"
)

// fixture wires every store over one test schema plus the authored chain
// most tests need: plan -> module -> published topic -> slide content.
type fixture struct {
	db       *database.Client
	contents *ContentStore
	virtual  *VirtualStore
	results  *ResultStore
	profiles *ProfileStore

	plan    *models.StudyPlan
	module  *models.Module
	topic   *models.Topic
	content *models.TopicContent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testdb.NewTestClient(t)

	f := &fixture{
		db:       db,
		contents: NewContentStore(db),
		virtual:  NewVirtualStore(db),
		results:  NewResultStore(db),
		profiles: NewProfileStore(db, testSealer(t)),
	}

	plan, err := f.contents.CreateStudyPlan(ctx, models.CreateStudyPlanRequest{
		Title:    "Linear Algebra",
		AuthorID: uuid.New().String(),
	})
	require.NoError(t, err)
	f.plan = plan

	module, err := f.contents.CreateModule(ctx, models.CreateModuleRequest{
		StudyPlanID: plan.ID,
		Name:        "Vectors",
	})
	require.NoError(t, err)
	f.module = module

	topic, err := f.contents.CreateTopic(ctx, models.CreateTopicRequest{
		ModuleID: module.ID,
		Name:     "Dot product",
		Theory:   "The dot product measures alignment.",
	})
	require.NoError(t, err)
	published, _, err := f.contents.SetTopicPublished(ctx, topic.ID, true)
	require.NoError(t, err)
	f.topic = published

	content, err := f.contents.CreateContent(ctx, models.CreateContentRequest{
		TopicID:     topic.ID,
		ContentType: models.ContentTypeSlide,
		Order:       1,
		Payload:     map[string]any{"title": "Definition"},
	})
	require.NoError(t, err)
	f.content = content

	return f
}

func testSealer(t *testing.T) *secrets.Sealer {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := secrets.NewSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return sealer
}

// materialize creates a virtual module with one active virtual topic and one
// adapted content for the given student.
func (f *fixture) materialize(t *testing.T, studentID string) (*models.VirtualModule, *models.VirtualTopic, *models.VirtualTopicContent) {
	t.Helper()
	ctx := context.Background()

	vm, created, err := f.virtual.EnsureVirtualModule(ctx, studentID, f.plan.ID, f.module.ID)
	require.NoError(t, err)
	require.True(t, created)

	vt, err := f.virtual.InsertVirtualTopic(ctx, f.virtual.Querier(), &models.VirtualTopic{
		VirtualModuleID: vm.ID,
		TopicID:         f.topic.ID,
		StudentID:       studentID,
		Name:            f.topic.Name,
		Theory:          f.topic.Theory,
		Order:           f.topic.Order,
	})
	require.NoError(t, err)

	vc, err := f.virtual.UpsertVirtualContent(ctx, f.virtual.Querier(), &models.VirtualTopicContent{
		VirtualTopicID: vt.ID,
		TopicContentID: f.content.ID,
		StudentID:      studentID,
		ContentType:    f.content.ContentType,
		Order:          f.content.Order,
		Payload:        map[string]any{"title": "Definition, adapted"},
		SourceVersion:  f.content.Version,
	})
	require.NoError(t, err)

	return vm, vt, vc
}

// addPublishedTopic appends another published topic to the fixture module.
func (f *fixture) addPublishedTopic(t *testing.T, name string) *models.Topic {
	t.Helper()
	ctx := context.Background()

	topic, err := f.contents.CreateTopic(ctx, models.CreateTopicRequest{
		ModuleID: f.module.ID,
		Name:     name,
	})
	require.NoError(t, err)
	published, _, err := f.contents.SetTopicPublished(ctx, topic.ID, true)
	require.NoError(t, err)
	return published
}
