// Package scheduler decides what to generate next for each student: the
// bootstrap of a plan, threshold-driven window advancement, lazy topic
// generation on unlock, and retry of budget-failed modules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// Scheduler is the per-student progression policy engine. It only reads
// state and enqueues tasks; all heavy work happens in the worker pool, and
// queue dedupe makes concurrent invocations harmless.
type Scheduler struct {
	contents *store.ContentStore
	virtual  *store.VirtualStore
	queue    *queue.TaskQueue
	gate     *budget.Gate
	provider string
	cfg      *config.VirtualizationConfig
}

// NewScheduler creates a new Scheduler
func NewScheduler(
	contents *store.ContentStore,
	virtual *store.VirtualStore,
	q *queue.TaskQueue,
	gate *budget.Gate,
	provider string,
	cfg *config.VirtualizationConfig,
) *Scheduler {
	return &Scheduler{
		contents: contents,
		virtual:  virtual,
		queue:    q,
		gate:     gate,
		provider: provider,
		cfg:      cfg,
	}
}

// Outcome reports one scheduling pass: the student's current virtual modules
// and any tasks this pass enqueued.
type Outcome struct {
	Modules []models.VirtualModule `json:"virtual_modules"`
	TaskIDs []string               `json:"task_ids"`
}

// moduleState pairs an authored module with its materialization for one
// student. VM is nil when the module has not been virtualized yet.
type moduleState struct {
	Module    models.Module
	VM        *models.VirtualModule
	Published int
}

// decision names the module the policy wants generated next.
type decision struct {
	ModuleID  string
	Bootstrap bool
}

// Schedule runs one policy pass for a (student, plan) pair: bootstrap when
// nothing is materialized, otherwise advance the generation window when the
// current module's progress crossed its threshold. Failed modules are
// re-enqueued when the budget gate has headroom again.
func (s *Scheduler) Schedule(ctx context.Context, studentID, planID string) (*Outcome, error) {
	if _, err := s.contents.GetStudyPlan(ctx, planID); err != nil {
		return nil, err
	}
	states, err := s.loadStates(ctx, studentID, planID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	for _, st := range states {
		if st.VM != nil {
			outcome.Modules = append(outcome.Modules, *st.VM)
		}
	}

	if d := decideNext(states, s.cfg.GenerationWindowSize, s.cfg.DefaultGenerationThreshold); d != nil {
		task, vm, err := s.enqueueGenerate(ctx, studentID, planID, d)
		if err != nil {
			return nil, err
		}
		if task != nil {
			outcome.TaskIDs = append(outcome.TaskIDs, task.ID)
		}
		if vm != nil {
			outcome.Modules = append(outcome.Modules, *vm)
		}
	}

	retried, err := s.retryFailed(ctx, studentID, states)
	if err != nil {
		return nil, err
	}
	outcome.TaskIDs = append(outcome.TaskIDs, retried...)
	return outcome, nil
}

// TriggerNextTopic advances progression inside one virtual module: unlock
// the next locked topic, or generate the next published topic lazily when
// the batch has run out. A window-advance check runs afterwards so module
// completion immediately schedules the next module.
func (s *Scheduler) TriggerNextTopic(ctx context.Context, studentID, virtualModuleID string) (*models.VirtualTopic, *Outcome, error) {
	vm, err := s.virtual.GetVirtualModule(ctx, virtualModuleID)
	if err != nil {
		return nil, nil, err
	}
	if vm.StudentID != studentID {
		return nil, nil, fmt.Errorf("%w: virtual module", store.ErrNotFound)
	}

	unlocked, err := s.virtual.UnlockNextTopic(ctx, vm.ID)
	switch {
	case err == nil:
		// The unlocked topic was already materialized; nothing to generate.
	case errors.Is(err, store.ErrPredecessorIncomplete):
		// Locked topics remain but the one before them is still in
		// progress. Progression stays where it is.
	case errors.Is(err, store.ErrNoLockedTopics):
		if err := s.generateNextTopic(ctx, vm); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	outcome, err := s.Schedule(ctx, studentID, vm.StudyPlanID)
	if err != nil {
		return nil, nil, err
	}
	return unlocked, outcome, nil
}

// OnTopicCompleted is the progression hook the results pipeline calls when a
// virtual topic reaches completion.
func (s *Scheduler) OnTopicCompleted(ctx context.Context, vt *models.VirtualTopic) {
	if _, _, err := s.TriggerNextTopic(ctx, vt.StudentID, vt.VirtualModuleID); err != nil {
		slog.Error("failed to advance after topic completion",
			"virtual_topic_id", vt.ID,
			"virtual_module_id", vt.VirtualModuleID,
			"student_id", vt.StudentID,
			"error", err)
	}
}

// generateNextTopic lazily materializes the lowest-ordered published topic
// the student does not have yet. Unlock is set so the worker activates it as
// soon as the adaptation lands.
func (s *Scheduler) generateNextTopic(ctx context.Context, vm *models.VirtualModule) error {
	inventory, err := s.contents.PublishedTopicInventory(ctx, vm.ModuleID)
	if err != nil {
		return err
	}
	existing, err := s.virtual.ListVirtualTopics(ctx, vm.ID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, vt := range existing {
		have[vt.TopicID] = true
	}

	for _, inv := range inventory {
		if have[inv.Topic.ID] {
			continue
		}
		task, created, err := s.queue.Enqueue(ctx, queue.EnqueueInput{
			TaskType:  models.TaskTypeGenerate,
			StudentID: vm.StudentID,
			ModuleID:  vm.ModuleID,
			Payload: models.TaskPayload{
				TopicIDs: []string{inv.Topic.ID},
				Unlock:   true,
				Reason:   "lazy topic generation on unlock",
			},
		})
		if err != nil {
			return err
		}
		if created {
			slog.Info("next topic generation enqueued",
				"task_id", task.ID,
				"virtual_module_id", vm.ID,
				"topic_id", inv.Topic.ID)
		}
		return nil
	}
	// Every published topic is materialized and unlocked; the module is
	// fully consumed from the progression side.
	return nil
}

func (s *Scheduler) enqueueGenerate(ctx context.Context, studentID, planID string, d *decision) (*models.GenerationTask, *models.VirtualModule, error) {
	vm, created, err := s.virtual.EnsureVirtualModule(ctx, studentID, planID, d.ModuleID)
	if err != nil {
		return nil, nil, err
	}

	task, taskCreated, err := s.queue.Enqueue(ctx, queue.EnqueueInput{
		TaskType:  models.TaskTypeGenerate,
		StudentID: studentID,
		ModuleID:  d.ModuleID,
		Payload: models.TaskPayload{
			Unlock: d.Bootstrap,
			Reason: scheduleReason(d),
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if taskCreated {
		slog.Info("module generation enqueued",
			"task_id", task.ID,
			"student_id", studentID,
			"module_id", d.ModuleID,
			"bootstrap", d.Bootstrap)
	}

	if created {
		return task, vm, nil
	}
	return task, nil, nil
}

// retryFailed re-enqueues generation for failed modules once the budget gate
// has headroom. Queue dedupe and the sweep cadence bound the retry rate.
func (s *Scheduler) retryFailed(ctx context.Context, studentID string, states []moduleState) ([]string, error) {
	var taskIDs []string
	for _, st := range states {
		if st.VM == nil || st.VM.GenerationStatus != models.GenerationStatusFailed {
			continue
		}
		ok, err := s.gate.HasHeadroom(ctx, s.provider, studentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		task, created, err := s.queue.Enqueue(ctx, queue.EnqueueInput{
			TaskType:  models.TaskTypeGenerate,
			StudentID: studentID,
			ModuleID:  st.Module.ID,
			Payload:   models.TaskPayload{Reason: "retry after generation failure"},
		})
		if err != nil {
			return nil, err
		}
		if created {
			slog.Info("failed module re-enqueued",
				"task_id", task.ID, "student_id", studentID, "module_id", st.Module.ID)
			taskIDs = append(taskIDs, task.ID)
		}
	}
	return taskIDs, nil
}

func (s *Scheduler) loadStates(ctx context.Context, studentID, planID string) ([]moduleState, error) {
	modules, err := s.contents.ListModulesByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	vms, err := s.virtual.ListVirtualModules(ctx, studentID, planID)
	if err != nil {
		return nil, err
	}
	byModule := make(map[string]*models.VirtualModule, len(vms))
	for i := range vms {
		byModule[vms[i].ModuleID] = &vms[i]
	}

	states := make([]moduleState, 0, len(modules))
	for _, m := range modules {
		published, err := s.contents.PublishedTopicCount(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		states = append(states, moduleState{Module: m, VM: byModule[m.ID], Published: published})
	}
	sort.SliceStable(states, func(i, j int) bool {
		if states[i].Module.Order != states[j].Module.Order {
			return states[i].Module.Order < states[j].Module.Order
		}
		return states[i].Module.CreatedAt.Before(states[j].Module.CreatedAt)
	})
	return states, nil
}

func scheduleReason(d *decision) string {
	if d.Bootstrap {
		return "plan bootstrap"
	}
	return "generation threshold crossed"
}

// decideNext is the sliding-window policy. states must be ordered by module
// order then creation time.
//
// The window counts every unconsumed materialization, including pending ones
// whose task has not run yet; counting pending is stricter than the
// generating/ready invariant and keeps a burst of passes from over-filling
// the window before the first task is claimed.
func decideNext(states []moduleState, windowSize int, defaultThreshold float64) *decision {
	window := 0
	anyVM := false
	for _, st := range states {
		if st.VM == nil {
			continue
		}
		anyVM = true
		switch st.VM.GenerationStatus {
		case models.GenerationStatusPending, models.GenerationStatusGenerating, models.GenerationStatusReady:
			if st.VM.Progress < 1.0 {
				window++
			}
		}
	}

	if !anyVM {
		for i := range states {
			if states[i].Published > 0 {
				return &decision{ModuleID: states[i].Module.ID, Bootstrap: true}
			}
		}
		return nil
	}
	if windowSize > 0 && window >= windowSize {
		return nil
	}

	// The current module is the furthest one the student has touched.
	var current *moduleState
	for i := range states {
		if states[i].VM != nil && states[i].VM.Progress > 0 {
			current = &states[i]
		}
	}
	if current == nil {
		return nil
	}

	threshold := current.Module.Settings.GenerationThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if current.VM.Progress < threshold {
		return nil
	}

	for i := range states {
		st := &states[i]
		if st.Module.Order <= current.Module.Order || st.VM != nil || st.Published == 0 {
			continue
		}
		return &decision{ModuleID: st.Module.ID}
	}
	return nil
}
