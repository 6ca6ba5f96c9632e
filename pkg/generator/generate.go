package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// materializeMode controls how existing adaptations are treated.
type materializeMode int

const (
	// modeAdapt re-adapts anything whose personalization fingerprint moved
	// and fills gaps. The normal generate/update path.
	modeAdapt materializeMode = iota

	// modeFill only produces contents with no virtual counterpart yet.
	// Enhance must never touch what the student already has.
	modeFill
)

// runGenerate materializes a virtual module: bootstrap (first batch of
// published topics) or targeted (payload names the topics). The module moves
// pending → generating → ready; topics insert locked and progression unlocks
// them.
func (e *Executor) runGenerate(ctx context.Context, task *models.GenerationTask) error {
	vm, err := e.virtual.GetVirtualModuleByStudentModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}
	if _, err := e.virtual.SetGenerationStatus(ctx, vm.ID, models.GenerationStatusGenerating, nil,
		models.GenerationStatusPending, models.GenerationStatusGenerating,
		models.GenerationStatusReady, models.GenerationStatusFailed); err != nil {
		return fmt.Errorf("failed to enter generating state: %w", err)
	}

	profile, err := e.profiles.ProfileOrDefault(ctx, task.StudentID)
	if err != nil {
		return err
	}
	inventory, err := e.targetInventory(ctx, task)
	if err != nil {
		return err
	}
	if len(inventory) == 0 {
		return fmt.Errorf("%w: module %s has no published topics to generate", store.ErrModuleNotReady, task.ModuleID)
	}

	for i := range inventory {
		if err := e.materializeTopic(ctx, vm, &inventory[i], profile, modeAdapt, string(task.TaskType)); err != nil {
			return err
		}
	}

	if task.Payload.Unlock {
		if _, err := e.virtual.UnlockNextTopic(ctx, vm.ID); err != nil &&
			!errors.Is(err, store.ErrNoLockedTopics) && !errors.Is(err, store.ErrPredecessorIncomplete) {
			return err
		}
	}
	if err := e.recomputeModule(ctx, vm); err != nil {
		return err
	}
	if _, err := e.virtual.SetGenerationStatus(ctx, vm.ID, models.GenerationStatusReady, nil,
		models.GenerationStatusGenerating); err != nil {
		return fmt.Errorf("failed to enter ready state: %w", err)
	}

	slog.Info("virtual module generated",
		"virtual_module_id", vm.ID,
		"student_id", task.StudentID,
		"module_id", task.ModuleID,
		"topics", len(inventory))
	return nil
}

// runUpdate re-adapts existing materializations after scope or profile
// change. Contents whose fingerprint still matches are skipped, which makes
// re-runs free.
func (e *Executor) runUpdate(ctx context.Context, task *models.GenerationTask) error {
	vm, err := e.virtual.GetVirtualModuleByStudentModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return err
	}
	profile, err := e.profiles.ProfileOrDefault(ctx, task.StudentID)
	if err != nil {
		return err
	}

	if len(task.Payload.TopicIDs) > 0 {
		inventory, err := e.contents.TopicInventoryByIDs(ctx, task.Payload.TopicIDs)
		if err != nil {
			return err
		}
		for i := range inventory {
			if err := e.materializeTopic(ctx, vm, &inventory[i], profile, modeAdapt, string(task.TaskType)); err != nil {
				return err
			}
		}
	}
	if len(task.Payload.ContentIDs) > 0 {
		if err := e.refreshContents(ctx, task.StudentID, task.Payload.ContentIDs, profile, string(task.TaskType)); err != nil {
			return err
		}
	}
	return e.recomputeModule(ctx, vm)
}

// runEnhance adds adaptations for content the student does not have yet,
// e.g. a quiz generated after the slides, leaving existing contents alone.
func (e *Executor) runEnhance(ctx context.Context, task *models.GenerationTask) error {
	vm, err := e.virtual.GetVirtualModuleByStudentModule(ctx, task.StudentID, task.ModuleID)
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
		if err := e.materializeTopic(ctx, vm, &inventory[i], profile, modeFill, string(task.TaskType)); err != nil {
			return err
		}
	}
	return e.recomputeModule(ctx, vm)
}

// targetInventory resolves which topics a generate task covers: the payload's
// explicit topic set, or the module's first initial-batch published topics.
func (e *Executor) targetInventory(ctx context.Context, task *models.GenerationTask) ([]models.TopicInventory, error) {
	if len(task.Payload.TopicIDs) > 0 {
		return e.contents.TopicInventoryByIDs(ctx, task.Payload.TopicIDs)
	}

	inventory, err := e.contents.PublishedTopicInventory(ctx, task.ModuleID)
	if err != nil {
		return nil, err
	}
	batch := task.Payload.InitialTopicCount
	if batch <= 0 {
		module, err := e.contents.GetModule(ctx, task.ModuleID)
		if err != nil {
			return nil, err
		}
		batch = module.Settings.InitialBatchSize
	}
	if batch <= 0 {
		batch = e.cfg.DefaultInitialBatchSize
	}
	if batch < len(inventory) {
		inventory = inventory[:batch]
	}
	return inventory, nil
}

// materializeTopic upserts one virtual topic and adapts its contents in
// deterministic order. Contents already up to date are skipped, so a
// reclaimed task resumes where the dead worker stopped.
func (e *Executor) materializeTopic(ctx context.Context, vm *models.VirtualModule, inv *models.TopicInventory, profile *models.CognitiveProfile, mode materializeMode, feature string) error {
	pc, err := e.registry.Config(e.provider)
	if err != nil {
		return err
	}

	vt, err := e.virtual.InsertVirtualTopic(ctx, e.virtual.Querier(), &models.VirtualTopic{
		VirtualModuleID: vm.ID,
		TopicID:         inv.Topic.ID,
		StudentID:       vm.StudentID,
		Name:            inv.Topic.Name,
		Theory:          inv.Topic.Theory,
		Order:           inv.Topic.Order,
		Locked:          true,
	})
	if err != nil {
		return err
	}

	existing, err := e.virtual.ListVirtualContents(ctx, vt.ID)
	if err != nil {
		return err
	}
	bySource := make(map[string]*models.VirtualTopicContent, len(existing))
	for i := range existing {
		bySource[existing[i].TopicContentID] = &existing[i]
	}

	for _, tc := range orderedContents(inv.Contents) {
		fp := Fingerprint(&tc, profile, e.provider, pc.Model)
		if prev, ok := bySource[tc.ID]; ok {
			if mode == modeFill || prev.PersonalizationFingerprint == fp {
				continue
			}
		}

		payload, err := e.adapt(ctx, inv.Topic.Name, inv.Topic.Theory, &tc, profile, feature)
		if err != nil {
			return fmt.Errorf("failed to adapt content %s (topic %s): %w", tc.ID, inv.Topic.ID, err)
		}
		if _, err := e.virtual.UpsertVirtualContent(ctx, e.virtual.Querier(), &models.VirtualTopicContent{
			VirtualTopicID:             vt.ID,
			TopicContentID:             tc.ID,
			StudentID:                  vm.StudentID,
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

// refreshContents re-adapts the student's existing adaptations of the given
// source contents wherever the fingerprint moved. Student progress lives in
// content results and topic rows and is untouched.
func (e *Executor) refreshContents(ctx context.Context, studentID string, contentIDs []string, profile *models.CognitiveProfile, feature string) error {
	pc, err := e.registry.Config(e.provider)
	if err != nil {
		return err
	}
	vcs, err := e.virtual.ContentsBySource(ctx, studentID, contentIDs)
	if err != nil {
		return err
	}

	for i := range vcs {
		vc := &vcs[i]
		tc, err := e.contents.GetContent(ctx, vc.TopicContentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Source vanished between enqueue and execution; hide the
				// orphaned adaptation instead of failing the batch.
				if _, err := e.virtual.MarkContentsDeletedBySource(ctx, studentID, []string{vc.TopicContentID}); err != nil {
					return err
				}
				continue
			}
			return err
		}

		fp := Fingerprint(tc, profile, e.provider, pc.Model)
		if fp == vc.PersonalizationFingerprint {
			continue
		}
		vt, err := e.virtual.GetVirtualTopic(ctx, vc.VirtualTopicID)
		if err != nil {
			return err
		}
		payload, err := e.adapt(ctx, vt.Name, vt.Theory, tc, profile, feature)
		if err != nil {
			return fmt.Errorf("failed to refresh content %s: %w", tc.ID, err)
		}
		if _, err := e.virtual.UpsertVirtualContent(ctx, e.virtual.Querier(), &models.VirtualTopicContent{
			VirtualTopicID:             vc.VirtualTopicID,
			TopicContentID:             tc.ID,
			StudentID:                  studentID,
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

func (e *Executor) recomputeModule(ctx context.Context, vm *models.VirtualModule) error {
	published, err := e.contents.PublishedTopicCount(ctx, vm.ModuleID)
	if err != nil {
		return err
	}
	_, err = e.virtual.RecomputeModuleProgress(ctx, vm.ID, published)
	return err
}

// orderedContents flattens a topic's content inventory into generation
// order: content order ascending, except the quiz always goes last since it
// may depend on the other elements.
func orderedContents(inv map[models.ContentType][]models.TopicContent) []models.TopicContent {
	var rest, quizzes []models.TopicContent
	for contentType, contents := range inv {
		if contentType == models.ContentTypeQuiz {
			quizzes = append(quizzes, contents...)
		} else {
			rest = append(rest, contents...)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Order != rest[j].Order {
			return rest[i].Order < rest[j].Order
		}
		return rest[i].ID < rest[j].ID
	})
	sort.SliceStable(quizzes, func(i, j int) bool { return quizzes[i].Order < quizzes[j].Order })
	return append(rest, quizzes...)
}
