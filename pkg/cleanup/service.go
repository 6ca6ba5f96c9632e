// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
)

// Service periodically enforces retention policies:
//   - Deletes old terminal generation tasks (failed kept longer)
//   - Purges budget alerts past their TTL
//   - Expires AI calls stuck in flight so their budget reservation releases
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	queue  *queue.TaskQueue
	ledger *budget.Ledger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, q *queue.TaskQueue, ledger *budget.Ledger) *Service {
	return &Service{
		config: cfg,
		queue:  q,
		ledger: ledger,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"failed_task_retention_days", s.config.FailedTaskRetentionDays,
		"alert_retention_days", s.config.AlertRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeTerminalTasks(ctx)
	s.purgeDismissedAlerts(ctx)
	s.expireStaleCalls(ctx)
}

func (s *Service) purgeTerminalTasks(ctx context.Context) {
	now := time.Now().UTC()
	completedCutoff := now.AddDate(0, 0, -s.config.TaskRetentionDays)
	failedCutoff := now.AddDate(0, 0, -s.config.FailedTaskRetentionDays)

	count, err := s.queue.PurgeTerminal(ctx, completedCutoff, failedCutoff)
	if err != nil {
		slog.Error("Retention: task purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged terminal tasks", "count", count)
	}
}

func (s *Service) purgeDismissedAlerts(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.AlertRetentionDays)

	count, err := s.ledger.PurgeAlerts(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: alert purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged dismissed alerts", "count", count)
	}
}

// expireStaleCalls settles ledger entries whose caller never finalized them.
// The cutoff is generous (one day) since an open entry only over-reserves
// budget, never under-counts it.
func (s *Service) expireStaleCalls(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	count, err := s.ledger.ExpireStaleCalls(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: stale call expiry failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: expired stale ai calls", "count", count)
	}
}
