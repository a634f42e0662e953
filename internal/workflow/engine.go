package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/maestros/internal/router"
	"github.com/mtzanidakis/maestros/internal/specialist"
	"github.com/mtzanidakis/maestros/internal/store"
)

// Publisher receives workflow lifecycle events. The web layer feeds these to
// websocket clients via the bus; tests pass nil.
type Publisher interface {
	PublishEvent(executionID, eventType string, data map[string]any)
}

// Engine executes workflows against the specialist registry. It owns each
// Execution until the run reaches a terminal status.
type Engine struct {
	registry    *specialist.Registry
	router      *router.Router
	store       *store.Store
	events      Publisher
	stepTimeout time.Duration
}

func NewEngine(reg *specialist.Registry, rtr *router.Router, s *store.Store, events Publisher, stepTimeout time.Duration) *Engine {
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	return &Engine{
		registry:    reg,
		router:      rtr,
		store:       s,
		events:      events,
		stepTimeout: stepTimeout,
	}
}

// Execute runs a workflow to completion. Configuration errors (unknown
// participants, empty registry, invalid decomposition targets) are returned
// as typed errors; step failures are recorded in the execution instead. The
// returned execution always carries per-step records for whatever was
// attempted.
func (e *Engine) Execute(ctx context.Context, task string, wfType Type, participantNames []string) (*Execution, error) {
	return e.ExecuteAs(ctx, uuid.New().String(), task, wfType, participantNames)
}

// ExecuteAs runs a workflow under a caller-chosen execution ID, so async
// submitters can hand out the ID before the run finishes.
func (e *Engine) ExecuteAs(ctx context.Context, id, task string, wfType Type, participantNames []string) (*Execution, error) {
	participants, err := e.resolveParticipants(wfType, participantNames)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:        id,
		Type:      wfType,
		Task:      task,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
	for _, sp := range participants {
		exec.Participants = append(exec.Participants, sp.Name)
	}

	// The run transitions to running synchronously at call start; the
	// persisted row is created already running so pollers reading through
	// the store never see a stale pending.
	exec.Status = StatusRunning
	e.persist(exec)
	e.publish(exec, "workflow_started", map[string]any{
		"workflow_type": string(wfType),
		"participants":  exec.Participants,
	})

	switch wfType {
	case TypeSequential:
		e.runSequential(ctx, exec, participants)
	case TypeParallel:
		e.runParallel(ctx, exec, participants)
	case TypeConditional:
		if err := e.runConditional(ctx, exec, participants); err != nil {
			e.finish(exec)
			return exec, err
		}
	case TypeHierarchical:
		if err := e.runHierarchical(ctx, exec, participants); err != nil {
			e.finish(exec)
			return exec, err
		}
	}

	e.finish(exec)
	return exec, nil
}

// ValidateParticipants checks a participant list without running anything,
// so submission errors surface synchronously.
func (e *Engine) ValidateParticipants(wfType Type, names []string) error {
	_, err := e.resolveParticipants(wfType, names)
	return err
}

// resolveParticipants maps names to registry entries, preserving the given
// order. An empty list means the whole registry in insertion order.
func (e *Engine) resolveParticipants(wfType Type, names []string) ([]*specialist.Specialist, error) {
	if len(names) == 0 {
		all := e.registry.List()
		if len(all) == 0 {
			return nil, errors.New("registry has no specialists")
		}
		return all, nil
	}

	out := make([]*specialist.Specialist, 0, len(names))
	for _, name := range names {
		sp, ok := e.registry.Get(name)
		if !ok {
			return nil, &ErrUnknownParticipant{Name: name}
		}
		out = append(out, sp)
	}
	return out, nil
}

func (e *Engine) runSequential(ctx context.Context, exec *Execution, participants []*specialist.Specialist) {
	input := exec.Task
	for i, sp := range participants {
		if ctx.Err() != nil {
			e.markRemainingCancelled(exec, participants[i:])
			return
		}

		step := e.invokeStep(ctx, sp, input)
		exec.Steps = append(exec.Steps, step)
		e.publishStep(exec, step)

		if step.Status == StepCancelled {
			e.markRemainingCancelled(exec, participants[i+1:])
			return
		}
		if step.Status != StepCompleted {
			// A step failure halts the chain; completed outputs stay in
			// the record for diagnosis.
			return
		}
		input = step.Output
	}
}

func (e *Engine) runParallel(ctx context.Context, exec *Execution, participants []*specialist.Specialist) {
	steps := make([]StepResult, len(participants))

	var wg sync.WaitGroup
	for i, sp := range participants {
		wg.Add(1)
		go func(i int, sp *specialist.Specialist) {
			defer wg.Done()
			// Every participant receives the identical original task.
			steps[i] = e.invokeStep(ctx, sp, exec.Task)
		}(i, sp)
	}
	wg.Wait()

	// Completion order is irrelevant; records keep declaration order.
	exec.Steps = append(exec.Steps, steps...)
	for _, step := range steps {
		e.publishStep(exec, step)
	}
}

func (e *Engine) runConditional(ctx context.Context, exec *Execution, participants []*specialist.Specialist) error {
	decision, err := e.router.Route(exec.Task, participants)
	if err != nil {
		exec.Error = err.Error()
		return fmt.Errorf("route task: %w", err)
	}
	exec.Decision = decision

	sp := decision.SelectedSpecialist()
	step := e.invokeStep(ctx, sp, exec.Task)
	exec.Steps = append(exec.Steps, step)
	e.publishStep(exec, step)
	return nil
}

func (e *Engine) runHierarchical(ctx context.Context, exec *Execution, participants []*specialist.Specialist) error {
	coordinator := participants[0]
	workers := participants[1:]

	prompt := buildCoordinatorPrompt(exec.Task, manifestFor(workers))
	coordStep := e.invokeStep(ctx, coordinator, prompt)
	exec.Steps = append(exec.Steps, coordStep)
	e.publishStep(exec, coordStep)

	if coordStep.Status != StepCompleted {
		exec.Error = "coordinator failed: " + coordStep.Error
		return nil
	}

	plan, err := ParseDecomposition(coordStep.Output, workerNames(workers))
	if err != nil {
		// An ill-formed plan fails the whole execution; zero sub-tasks run.
		exec.Error = err.Error()
		var derr *DecompositionError
		if errors.As(err, &derr) {
			return err
		}
		return &DecompositionError{Reason: err.Error()}
	}

	// Sub-tasks run sequentially in decomposition order, for determinism.
	byName := make(map[string]*specialist.Specialist, len(workers))
	for _, sp := range workers {
		byName[sp.Name] = sp
	}
	for _, sub := range plan {
		if ctx.Err() != nil {
			exec.Steps = append(exec.Steps, StepResult{
				Specialist: sub.Specialist,
				Status:     StepCancelled,
				Error:      "cancelled",
			})
			continue
		}
		step := e.invokeStep(ctx, byName[sub.Specialist], sub.Task)
		exec.Steps = append(exec.Steps, step)
		e.publishStep(exec, step)
	}
	return nil
}

// invokeStep calls one specialist with the per-call timeout and classifies
// the outcome. Caller cancellation is distinguished from a timed-out call:
// the former yields a cancelled step, the latter a failed one.
func (e *Engine) invokeStep(ctx context.Context, sp *specialist.Specialist, task string) StepResult {
	step := StepResult{Specialist: sp.Name}

	if ctx.Err() != nil {
		step.Status = StepCancelled
		step.Error = "cancelled"
		return step
	}

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	start := time.Now()
	output, err := sp.Handle().Invoke(callCtx, task)
	step.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		step.Status = StepCompleted
		step.Output = output
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		step.Status = StepCancelled
		step.Error = "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		step.Status = StepFailed
		step.Error = fmt.Sprintf("timed out after %s", e.stepTimeout)
	default:
		step.Status = StepFailed
		step.Error = err.Error()
	}
	return step
}

func (e *Engine) markRemainingCancelled(exec *Execution, remaining []*specialist.Specialist) {
	for _, sp := range remaining {
		exec.Steps = append(exec.Steps, StepResult{
			Specialist: sp.Name,
			Status:     StepCancelled,
			Error:      "cancelled",
		})
	}
}

// finish derives the terminal status and consolidated output, then persists
// and publishes the result.
func (e *Engine) finish(exec *Execution) {
	exec.CompletedAt = time.Now().UTC()

	cancelled := false
	succeeded := 0
	failed := 0
	for _, step := range exec.Steps {
		switch step.Status {
		case StepCompleted:
			succeeded++
		case StepFailed:
			failed++
		case StepCancelled:
			cancelled = true
		}
	}

	switch {
	case cancelled:
		// No consolidation after cancellation; completed steps stay in the
		// record.
		exec.Status = StatusFailed
		exec.Cancelled = true
		if exec.Error == "" {
			exec.Error = "cancelled"
		}
	case exec.Error != "":
		exec.Status = StatusFailed
	case exec.Type == TypeParallel:
		if succeeded > 0 {
			exec.Status = StatusCompleted
			exec.Summary = consolidate(exec)
		} else {
			exec.Status = StatusFailed
			exec.Error = "all participants failed"
		}
	default:
		if failed == 0 && succeeded > 0 {
			exec.Status = StatusCompleted
			exec.Summary = consolidate(exec)
		} else {
			exec.Status = StatusFailed
			if exec.Error == "" {
				exec.Error = firstStepError(exec)
			}
		}
	}

	e.persist(exec)
	e.publish(exec, "workflow_"+string(exec.Status), map[string]any{
		"steps":     len(exec.Steps),
		"cancelled": exec.Cancelled,
	})
	slog.Info("workflow finished", "id", exec.ID, "type", exec.Type,
		"status", exec.Status, "steps", len(exec.Steps))
}

// consolidate builds the best-effort summary: concatenation of successful
// outputs in step order for parallel/hierarchical, the last successful
// output for sequential/conditional.
func consolidate(exec *Execution) string {
	switch exec.Type {
	case TypeParallel, TypeHierarchical:
		var sb strings.Builder
		for _, step := range exec.Steps {
			if step.Status != StepCompleted || step.Output == "" {
				continue
			}
			if exec.Type == TypeHierarchical && step.Specialist == exec.Participants[0] {
				continue // the coordinator's plan is not an answer
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "### %s\n\n%s", step.Specialist, step.Output)
		}
		return sb.String()
	case TypeSequential, TypeConditional:
		for i := len(exec.Steps) - 1; i >= 0; i-- {
			if exec.Steps[i].Status == StepCompleted {
				return exec.Steps[i].Output
			}
		}
	}
	return ""
}

func firstStepError(exec *Execution) string {
	for _, step := range exec.Steps {
		if step.Status == StepFailed {
			return fmt.Sprintf("step %s: %s", step.Specialist, step.Error)
		}
	}
	return "no successful steps"
}

func (e *Engine) persist(exec *Execution) {
	if e.store == nil {
		return
	}
	rec := &store.ExecutionRecord{
		ID:           exec.ID,
		WorkflowType: string(exec.Type),
		Task:         exec.Task,
		Participants: exec.Participants,
		Status:       string(exec.Status),
		Steps:        exec.StepsJSON(),
		Summary:      exec.Summary,
		Error:        exec.Error,
	}
	if exec.Terminal() {
		if err := e.store.UpdateExecution(rec.ID, rec.Status, rec.Steps, rec.Summary, rec.Error); err != nil {
			slog.Error("failed to persist execution", "id", exec.ID, "error", err)
		}
		return
	}
	if err := e.store.SaveExecution(rec); err != nil {
		slog.Error("failed to persist execution", "id", exec.ID, "error", err)
	}
}

func (e *Engine) publish(exec *Execution, eventType string, data map[string]any) {
	if e.events == nil {
		return
	}
	e.events.PublishEvent(exec.ID, eventType, data)
}

func (e *Engine) publishStep(exec *Execution, step StepResult) {
	e.publish(exec, "workflow_step", map[string]any{
		"specialist":  step.Specialist,
		"status":      step.Status,
		"duration_ms": step.DurationMS,
	})
}

func manifestFor(workers []*specialist.Specialist) []specialist.ManifestEntry {
	entries := make([]specialist.ManifestEntry, 0, len(workers))
	for _, sp := range workers {
		entries = append(entries, specialist.ManifestEntry{
			Name:         sp.Name,
			Role:         sp.Role,
			Capabilities: sp.Capabilities,
		})
	}
	return entries
}

func workerNames(workers []*specialist.Specialist) map[string]bool {
	names := make(map[string]bool, len(workers))
	for _, sp := range workers {
		names[sp.Name] = true
	}
	return names
}
