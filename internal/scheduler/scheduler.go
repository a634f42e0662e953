// Package scheduler polls the store for due scheduled tasks and submits
// them as workflow executions.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/maestros/internal/config"
	"github.com/mtzanidakis/maestros/internal/schedule"
	"github.com/mtzanidakis/maestros/internal/store"
	"github.com/mtzanidakis/maestros/internal/tracker"
	"github.com/mtzanidakis/maestros/internal/workflow"
)

type Scheduler struct {
	store        *store.Store
	tracker      *tracker.Tracker
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, tr *tracker.Tracker, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		tracker:      tr,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdatePollInterval changes the polling cadence and resets the ticker.
func (s *Scheduler) UpdatePollInterval(interval time.Duration) {
	s.pollInterval = interval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Start runs the polling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval updated", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueTasks(time.Now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}
	for _, task := range due {
		s.fire(ctx, task)
	}
}

// fire submits one due task as a workflow and advances its schedule. A
// submission failure is recorded on the task; the schedule still advances,
// so a broken task does not refire every poll.
func (s *Scheduler) fire(ctx context.Context, task store.ScheduledTask) {
	slog.Info("firing scheduled task", "id", task.ID, "name", task.Name, "workflow_type", task.WorkflowType)

	wfType, err := workflow.ParseType(task.WorkflowType)
	lastStatus := "submitted"
	lastError := ""
	if err == nil {
		_, err = s.tracker.Submit(ctx, task.Task, wfType, splitParticipants(task.Participants))
	}
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled task submission failed", "id", task.ID, "error", err)
	}

	nextRun := schedule.NextRun(task.Schedule)
	if err := s.store.UpdateTaskRun(task.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", task.ID, "error", err)
	}

	if nextRun == nil {
		if err := s.store.UpdateTaskStatus(task.ID, "completed"); err != nil {
			slog.Error("failed to complete one-off task", "id", task.ID, "error", err)
		}
	}
}

func splitParticipants(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
