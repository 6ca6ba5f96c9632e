package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// runSync applies one instructor-side mutation to a student's materialized
// state. The kinds mirror the reconciler's mutation table.
func (e *Executor) runSync(ctx context.Context, task *models.GenerationTask) error {
	if !task.Payload.Kind.IsValid() {
		return store.NewValidationError("kind", fmt.Sprintf("unknown sync kind %q", task.Payload.Kind))
	}

	vm, err := e.virtual.GetVirtualModuleByStudentModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}

	switch task.Payload.Kind {
	case models.SyncKindPublish:
		err = e.syncPublish(ctx, vm, task)
	case models.SyncKindRetract:
		err = e.syncRetract(ctx, vm, task)
	case models.SyncKindRefresh:
		profile, perr := e.profiles.ProfileOrDefault(ctx, task.StudentID)
		if perr != nil {
			return perr
		}
		err = e.refreshContents(ctx, task.StudentID, task.Payload.ContentIDs, profile, string(task.TaskType))
	case models.SyncKindAdd:
		err = e.syncAdd(ctx, task)
	case models.SyncKindRemove:
		err = e.syncRemove(ctx, task)
	}
	if err != nil {
		return err
	}
	return e.recomputeModule(ctx, vm)
}

// syncPublish materializes freshly published topics into an existing virtual
// module. Topics retracted earlier come back with their progress; new ones
// are adapted from scratch, locked.
func (e *Executor) syncPublish(ctx context.Context, vm *models.VirtualModule, task *models.GenerationTask) error {
	restored, err := e.virtual.RestoreTopicsBySource(ctx, task.StudentID, task.Payload.TopicIDs)
	if err != nil {
		return err
	}

	profile, err := e.profiles.ProfileOrDefault(ctx, task.StudentID)
	if err != nil {
		return err
	}
	inventory, err := e.contents.TopicInventoryByIDs(ctx, task.Payload.TopicIDs)
	if err != nil {
		return err
	}
	for i := range inventory {
		if err := e.materializeTopic(ctx, vm, &inventory[i], profile, modeAdapt, string(task.TaskType)); err != nil {
			return err
		}
	}

	slog.Info("published topics synced",
		"virtual_module_id", vm.ID, "restored", restored, "topics", len(inventory))
	return nil
}

// syncRetract hides the materializations of unpublished topics. Their rows
// and results stay so a later re-publish picks up where the student was.
func (e *Executor) syncRetract(ctx context.Context, vm *models.VirtualModule, task *models.GenerationTask) error {
	locked, err := e.virtual.LockTopicsBySource(ctx, task.StudentID, task.Payload.TopicIDs)
	if err != nil {
		return err
	}
	slog.Info("retracted topics synced", "virtual_module_id", vm.ID, "locked", locked)
	return nil
}

// syncAdd adapts instructor-added contents into the student's already
// materialized topics. Topics the student has not reached yet are skipped;
// their generate task will cover the new content when it runs.
func (e *Executor) syncAdd(ctx context.Context, task *models.GenerationTask) error {
	profile, err := e.profiles.ProfileOrDefault(ctx, task.StudentID)
	if err != nil {
		return err
	}
	pc, err := e.registry.Config(e.provider)
	if err != nil {
		return err
	}

	for _, contentID := range task.Payload.ContentIDs {
		tc, err := e.contents.GetContent(ctx, contentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		vt, err := e.virtual.TopicBySource(ctx, task.StudentID, tc.TopicID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}

		fp := Fingerprint(tc, profile, e.provider, pc.Model)
		payload, err := e.adapt(ctx, vt.Name, vt.Theory, tc, profile, string(task.TaskType))
		if err != nil {
			return fmt.Errorf("failed to adapt added content %s: %w", tc.ID, err)
		}
		if _, err := e.virtual.UpsertVirtualContent(ctx, e.virtual.Querier(), &models.VirtualTopicContent{
			VirtualTopicID:             vt.ID,
			TopicContentID:             tc.ID,
			StudentID:                  task.StudentID,
			ContentType:                tc.ContentType,
			Order:                      tc.Order,
			Payload:                    payload,
			SourceVersion:              tc.Version,
			PersonalizationFingerprint: fp,
		}); err != nil {
			return err
		}
	}
	return nil
}

// syncRemove hides adaptations of deleted source contents and recomputes the
// progress of every touched topic. Content results are kept for audit.
func (e *Executor) syncRemove(ctx context.Context, task *models.GenerationTask) error {
	vcs, err := e.virtual.ContentsBySource(ctx, task.StudentID, task.Payload.ContentIDs)
	if err != nil {
		return err
	}
	if _, err := e.virtual.MarkContentsDeletedBySource(ctx, task.StudentID, task.Payload.ContentIDs); err != nil {
		return err
	}

	topicIDs := lo.Uniq(lo.Map(vcs, func(vc models.VirtualTopicContent, _ int) string {
		return vc.VirtualTopicID
	}))
	for _, vtID := range topicIDs {
		if _, err := e.virtual.RecomputeTopicProgress(ctx, vtID); err != nil {
			return err
		}
	}
	return nil
}
