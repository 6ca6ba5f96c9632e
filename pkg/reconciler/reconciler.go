// Package reconciler propagates instructor-side content mutations into
// already-materialized virtual modules by fanning sync tasks out over the
// affected students.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// Reconciler maps each authoring mutation to sync_content_change tasks.
// Sync tasks are enqueued below generation priority, so student-initiated
// work always outruns catch-up, and queue dedupe absorbs repeated edits to
// the same element.
type Reconciler struct {
	contents *store.ContentStore
	virtual  *store.VirtualStore
	queue    *queue.TaskQueue
}

// NewReconciler creates a new Reconciler
func NewReconciler(contents *store.ContentStore, virtual *store.VirtualStore, q *queue.TaskQueue) *Reconciler {
	return &Reconciler{contents: contents, virtual: virtual, queue: q}
}

// TopicPublished fans a publish out to every student holding a virtual
// module over the topic's parent. Returns how many tasks were enqueued.
func (r *Reconciler) TopicPublished(ctx context.Context, topic *models.Topic) (int, error) {
	return r.fanOutTopic(ctx, topic, models.SyncKindPublish)
}

// TopicRetracted hides the topic's materializations for every affected
// student.
func (r *Reconciler) TopicRetracted(ctx context.Context, topic *models.Topic) (int, error) {
	return r.fanOutTopic(ctx, topic, models.SyncKindRetract)
}

// ContentChanged re-adapts edited source content for every student holding
// an adaptation of it. The worker skips students whose fingerprint still
// matches, so over-notification only costs a queue round trip.
func (r *Reconciler) ContentChanged(ctx context.Context, content *models.TopicContent) (int, error) {
	students, err := r.virtual.StudentsWithContent(ctx, content.ID)
	if err != nil {
		return 0, err
	}
	return r.fanOutContent(ctx, content, students, models.SyncKindRefresh)
}

// ContentAdded appends an instructor-added content element to the
// materializations of every student generating or holding the parent module.
func (r *Reconciler) ContentAdded(ctx context.Context, content *models.TopicContent) (int, error) {
	topic, err := r.contents.GetTopic(ctx, content.TopicID)
	if err != nil {
		return 0, err
	}
	students, err := r.virtual.StudentsWithModule(ctx, topic.ModuleID,
		models.GenerationStatusReady, models.GenerationStatusGenerating)
	if err != nil {
		return 0, err
	}
	return r.fanOutContent(ctx, content, students, models.SyncKindAdd)
}

// ContentRemoved hides the virtual counterparts of a deleted source content.
// Content results are never deleted; they stay for audit.
func (r *Reconciler) ContentRemoved(ctx context.Context, content *models.TopicContent) (int, error) {
	students, err := r.virtual.StudentsWithContent(ctx, content.ID)
	if err != nil {
		return 0, err
	}
	return r.fanOutContent(ctx, content, students, models.SyncKindRemove)
}

func (r *Reconciler) fanOutTopic(ctx context.Context, topic *models.Topic, kind models.SyncKind) (int, error) {
	students, err := r.virtual.StudentsWithModule(ctx, topic.ModuleID,
		models.GenerationStatusReady, models.GenerationStatusGenerating)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, studentID := range students {
		_, created, err := r.queue.Enqueue(ctx, queue.EnqueueInput{
			TaskType:  models.TaskTypeSyncContentChange,
			StudentID: studentID,
			ModuleID:  topic.ModuleID,
			Payload: models.TaskPayload{
				Kind:     kind,
				TopicIDs: []string{topic.ID},
				Reason:   "instructor topic " + string(kind),
			},
		})
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}
	r.logFanOut(string(kind), topic.ID, len(students), enqueued)
	return enqueued, nil
}

func (r *Reconciler) fanOutContent(ctx context.Context, content *models.TopicContent, students []string, kind models.SyncKind) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}
	topic, err := r.contents.GetTopic(ctx, content.TopicID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, studentID := range students {
		_, created, err := r.queue.Enqueue(ctx, queue.EnqueueInput{
			TaskType:  models.TaskTypeSyncContentChange,
			StudentID: studentID,
			ModuleID:  topic.ModuleID,
			Payload: models.TaskPayload{
				Kind:       kind,
				ContentIDs: []string{content.ID},
				Reason:     "instructor content " + string(kind),
			},
		})
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}
	r.logFanOut(string(kind), content.ID, len(students), enqueued)
	return enqueued, nil
}

func (r *Reconciler) logFanOut(kind, sourceID string, students, enqueued int) {
	if students == 0 {
		return
	}
	slog.Info("content mutation fanned out",
		"kind", kind,
		"source_id", sourceID,
		"students", students,
		"tasks_enqueued", enqueued)
}
