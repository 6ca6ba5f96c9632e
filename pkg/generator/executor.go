// Package generator executes generation tasks: it materializes virtual
// modules, topics and adapted contents for one student, invoking model
// providers through the budget gate.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/llm"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// Executor implements queue.TaskExecutor for all generation task types.
//
// Every write it performs is an upsert keyed on source ids, so a task that
// was reclaimed mid-run and re-executed converges to the same state as a
// single clean run.
type Executor struct {
	contents *store.ContentStore
	virtual  *store.VirtualStore
	profiles *store.ProfileStore
	gate     *budget.Gate
	registry *llm.Registry

	// provider is the registry name used for adaptation calls.
	provider string
	cfg      *config.VirtualizationConfig
}

// NewExecutor creates a new Executor
func NewExecutor(
	contents *store.ContentStore,
	virtual *store.VirtualStore,
	profiles *store.ProfileStore,
	gate *budget.Gate,
	registry *llm.Registry,
	provider string,
	cfg *config.VirtualizationConfig,
) *Executor {
	return &Executor{
		contents: contents,
		virtual:  virtual,
		profiles: profiles,
		gate:     gate,
		registry: registry,
		provider: provider,
		cfg:      cfg,
	}
}

// Execute dispatches one claimed task by type and classifies its outcome for
// the queue.
func (e *Executor) Execute(ctx context.Context, task *models.GenerationTask) *queue.ExecutionResult {
	var err error
	switch task.TaskType {
	case models.TaskTypeGenerate:
		err = e.runGenerate(ctx, task)
	case models.TaskTypeUpdate:
		err = e.runUpdate(ctx, task)
	case models.TaskTypeEnhance:
		err = e.runEnhance(ctx, task)
	case models.TaskTypeSyncContentChange:
		err = e.runSync(ctx, task)
	default:
		err = fmt.Errorf("unknown task type %q", task.TaskType)
	}
	return e.classify(ctx, task, err)
}

// classify maps an execution error onto the task state machine:
//
//   - provider timeouts, 5xx and network errors are transient and retried;
//   - budget denials are terminal for the task (the scheduler re-enqueues
//     once budget permits);
//   - missing source entities mean the authored content was deleted while
//     the task waited, which cancels rather than fails;
//   - everything else is a logic failure, terminal immediately.
//
// A generation task's terminal failure also marks the virtual module failed
// with a human-readable reason, separate from the error detail kept on the
// task row.
func (e *Executor) classify(ctx context.Context, task *models.GenerationTask, err error) *queue.ExecutionResult {
	if err == nil {
		return &queue.ExecutionResult{Status: models.TaskStatusCompleted}
	}
	if errors.Is(err, context.Canceled) {
		return &queue.ExecutionResult{Status: models.TaskStatusCancelled, Error: err}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &queue.ExecutionResult{Status: models.TaskStatusCancelled,
			Error: fmt.Errorf("source entity gone: %w", err)}
	}

	retryable := e.isRetryable(err)
	lastAttempt := task.Attempts >= task.MaxAttempts
	if !retryable || lastAttempt {
		e.markModuleFailed(ctx, task, err)
	}
	return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err, Retryable: retryable}
}

func (e *Executor) isRetryable(err error) bool {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			return false
		}
		return llm.IsRetryable(err)
	}
}

// markModuleFailed records a terminal generation failure on the student's
// virtual module. Sync tasks never fail a module: the previously generated
// state stays serveable while sync catches up on retry or rescheduling.
func (e *Executor) markModuleFailed(ctx context.Context, task *models.GenerationTask, cause error) {
	if task.TaskType == models.TaskTypeSyncContentChange {
		return
	}
	vm, err := e.virtual.GetVirtualModuleByStudentModule(ctx, task.StudentID, task.ModuleID)
	if err != nil {
		return
	}
	reason := failureReason(cause)
	if _, err := e.virtual.SetGenerationStatus(ctx, vm.ID, models.GenerationStatusFailed, &reason,
		models.GenerationStatusPending, models.GenerationStatusGenerating, models.GenerationStatusReady); err != nil {
		slog.Error("failed to mark virtual module failed",
			"virtual_module_id", vm.ID, "task_id", task.ID, "error", err)
	}
}

// failureReason is the student-facing explanation; it never carries provider
// responses or stack detail.
func failureReason(err error) string {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		return "generation paused: the AI budget for today is exhausted"
	case errors.Is(err, llm.ErrMissingAPIKey):
		return "generation failed: no AI provider key is configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "generation failed: the AI provider did not respond in time"
	default:
		return "generation failed: the content could not be adapted"
	}
}
