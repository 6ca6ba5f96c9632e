package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Sweep is the periodic safety net behind the event-driven triggers: it
// re-runs the policy for every student with unfinished generation, catching
// threshold crossings missed while the process was down and retrying failed
// modules once budget returns.
type Sweep struct {
	scheduler *Scheduler
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweep creates a new Sweep
func NewSweep(s *Scheduler, interval time.Duration) *Sweep {
	return &Sweep{scheduler: s, interval: interval}
}

// Start launches the background sweep loop.
func (s *Sweep) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Scheduler sweep started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweep) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Scheduler sweep stopped")
}

func (s *Sweep) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweep) sweep(ctx context.Context) {
	pairs, err := s.scheduler.virtual.ActiveStudentPlans(ctx)
	if err != nil {
		slog.Error("Scheduler sweep: failed to list active student plans", "error", err)
		return
	}

	enqueued := 0
	for _, p := range pairs {
		outcome, err := s.scheduler.Schedule(ctx, p.StudentID, p.StudyPlanID)
		if err != nil {
			slog.Error("Scheduler sweep: pass failed",
				"student_id", p.StudentID, "study_plan_id", p.StudyPlanID, "error", err)
			continue
		}
		enqueued += len(outcome.TaskIDs)
	}
	if enqueued > 0 {
		slog.Info("Scheduler sweep enqueued tasks", "students", len(pairs), "tasks", enqueued)
	}
}
