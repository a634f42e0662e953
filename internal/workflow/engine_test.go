package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/maestros/internal/router"
	"github.com/mtzanidakis/maestros/internal/specialist"
)

// scripted returns an invoker with a fixed reply or error.
func scripted(output string, err error) specialist.Invoker {
	return specialist.InvokeFunc(func(context.Context, string) (string, error) {
		return output, err
	})
}

// blocking returns an invoker that waits for ctx cancellation after
// signalling that it started.
func blocking(started chan<- string, name string) specialist.Invoker {
	return specialist.InvokeFunc(func(ctx context.Context, _ string) (string, error) {
		if started != nil {
			started <- name
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func TestStepDurationInMilliseconds(t *testing.T) {
	slow := specialist.InvokeFunc(func(context.Context, string) (string, error) {
		time.Sleep(25 * time.Millisecond)
		return "done", nil
	})
	e := newTestEngine(t, []registration{{"a", "assistant", nil, slow}})

	exec, err := e.Execute(context.Background(), "task", TypeSequential, []string{"a"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// A 25ms call must record tens of milliseconds, not tens of millions
	// of nanoseconds.
	ms := exec.Steps[0].DurationMS
	if ms < 20 || ms > 5000 {
		t.Errorf("duration_ms = %d, not a millisecond count", ms)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(exec.StepsJSON(), &decoded); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	if v := decoded[0]["duration_ms"].(float64); v != float64(ms) {
		t.Errorf("marshalled duration_ms = %v, want %d", v, ms)
	}
}

type registration struct {
	name   string
	role   string
	caps   []string
	handle specialist.Invoker
}

func newTestEngine(t *testing.T, regs []registration) *Engine {
	t.Helper()
	reg := specialist.New(nil)
	for _, r := range regs {
		if _, err := reg.Add(r.name, r.role, r.caps, r.handle, specialist.ModelConfig{}); err != nil {
			t.Fatalf("add %s: %v", r.name, err)
		}
	}
	return NewEngine(reg, router.New(nil, "assistant"), nil, nil, time.Second)
}

func TestSequentialChainsOutputs(t *testing.T) {
	var inputs []string
	var mu sync.Mutex
	record := func(name string) specialist.Invoker {
		return specialist.InvokeFunc(func(_ context.Context, task string) (string, error) {
			mu.Lock()
			inputs = append(inputs, task)
			mu.Unlock()
			return "out-" + name, nil
		})
	}

	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, record("a")},
		{"b", "assistant", nil, record("b")},
	})

	exec, err := e.Execute(context.Background(), "original task", TypeSequential, []string{"a", "b"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", exec.Status)
	}
	if inputs[0] != "original task" || inputs[1] != "out-a" {
		t.Errorf("inputs = %v, chaining broken", inputs)
	}
	if exec.Summary != "out-b" {
		t.Errorf("summary = %q, want last output", exec.Summary)
	}
}

func TestSequentialHaltsOnFailure(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("ok", nil)},
		{"b", "assistant", nil, scripted("", errors.New("model error"))},
		{"c", "assistant", nil, scripted("never", nil)},
	})

	exec, err := e.Execute(context.Background(), "task", TypeSequential, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if len(exec.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 (third never attempted)", len(exec.Steps))
	}
	if exec.Steps[0].Status != StepCompleted || exec.Steps[0].Output != "ok" {
		t.Errorf("completed step not retained: %+v", exec.Steps[0])
	}
	if exec.Steps[1].Status != StepFailed {
		t.Errorf("failing step = %+v", exec.Steps[1])
	}
	if !strings.Contains(exec.Error, "model error") {
		t.Errorf("error = %q", exec.Error)
	}
}

func TestParallelPartialFailureCompletes(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("alpha", nil)},
		{"b", "assistant", nil, scripted("", errors.New("overloaded"))},
		{"c", "assistant", nil, scripted("gamma", nil)},
	})

	exec, err := e.Execute(context.Background(), "task", TypeParallel, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed with one failure", exec.Status)
	}
	if len(exec.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(exec.Steps))
	}
	// Records keep declaration order regardless of completion order.
	for i, name := range []string{"a", "b", "c"} {
		if exec.Steps[i].Specialist != name {
			t.Errorf("steps[%d] = %s, want %s", i, exec.Steps[i].Specialist, name)
		}
	}
	if !strings.Contains(exec.Summary, "alpha") || !strings.Contains(exec.Summary, "gamma") {
		t.Errorf("summary missing successful outputs: %q", exec.Summary)
	}
	if strings.Contains(exec.Summary, "overloaded") {
		t.Errorf("summary includes failed step: %q", exec.Summary)
	}
}

func TestParallelAllFail(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("", errors.New("down"))},
		{"b", "assistant", nil, scripted("", errors.New("down"))},
	})

	exec, err := e.Execute(context.Background(), "task", TypeParallel, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if exec.Error != "all participants failed" {
		t.Errorf("error = %q", exec.Error)
	}
}

func TestConditionalRoutesAndRecordsDecision(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"coder", "engineer", []string{"code", "debug"}, scripted("fixed", nil)},
		{"analyst", "analyst", []string{"data", "calculation"}, scripted("analyzed", nil)},
	})

	exec, err := e.Execute(context.Background(), "debug this code", TypeConditional, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.Decision == nil || exec.Decision.Selected != "coder" {
		t.Fatalf("decision = %+v", exec.Decision)
	}
	if len(exec.Steps) != 1 || exec.Steps[0].Specialist != "coder" {
		t.Errorf("steps = %+v", exec.Steps)
	}
	if exec.Summary != "fixed" {
		t.Errorf("summary = %q", exec.Summary)
	}
}

func TestConditionalNoMatchFails(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"coder", "engineer", []string{"code"}, scripted("", nil)},
	})

	exec, err := e.Execute(context.Background(), "unrelated request", TypeConditional, nil)
	if !errors.Is(err, router.ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	if len(exec.Steps) != 0 {
		t.Errorf("no specialist should have been invoked, steps = %+v", exec.Steps)
	}
}

func TestHierarchicalDispatchesPlan(t *testing.T) {
	plan := `[{"specialist":"coder","task":"write it"},{"specialist":"writer","task":"document it"}]`
	e := newTestEngine(t, []registration{
		{"lead", "manager", []string{"planning"}, scripted(plan, nil)},
		{"coder", "engineer", []string{"code"}, scripted("code done", nil)},
		{"writer", "writer", []string{"writing"}, scripted("docs done", nil)},
	})

	exec, err := e.Execute(context.Background(), "build the feature", TypeHierarchical, []string{"lead", "coder", "writer"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", exec.Status, exec.Error)
	}
	if len(exec.Steps) != 3 {
		t.Fatalf("steps = %d, want coordinator + 2 workers", len(exec.Steps))
	}
	if exec.Steps[0].Specialist != "lead" {
		t.Errorf("first step should be coordinator, got %s", exec.Steps[0].Specialist)
	}
	// Coordinator's plan is not part of the consolidated answer.
	if strings.Contains(exec.Summary, "write it") {
		t.Errorf("summary includes coordinator output: %q", exec.Summary)
	}
	if !strings.Contains(exec.Summary, "code done") || !strings.Contains(exec.Summary, "docs done") {
		t.Errorf("summary = %q", exec.Summary)
	}
}

func TestHierarchicalUnknownReferenceFailsWholeRun(t *testing.T) {
	invoked := false
	plan := `[{"specialist":"ghost","task":"haunt"}]`
	e := newTestEngine(t, []registration{
		{"lead", "manager", nil, scripted(plan, nil)},
		{"coder", "engineer", []string{"code"}, specialist.InvokeFunc(func(context.Context, string) (string, error) {
			invoked = true
			return "", nil
		})},
	})

	exec, err := e.Execute(context.Background(), "task", TypeHierarchical, []string{"lead", "coder"})
	var derr *DecompositionError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecompositionError, got %v", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("status = %s, want failed", exec.Status)
	}
	if invoked {
		t.Error("sub-task dispatched despite invalid plan")
	}
	if len(exec.Steps) != 1 {
		t.Errorf("only the coordinator step should exist, got %d", len(exec.Steps))
	}
}

func TestHierarchicalCoordinatorFailure(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"lead", "manager", nil, scripted("", errors.New("timeout"))},
		{"coder", "engineer", nil, scripted("never", nil)},
	})

	exec, err := e.Execute(context.Background(), "task", TypeHierarchical, []string{"lead", "coder"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "coordinator failed") {
		t.Errorf("error = %q", exec.Error)
	}
}

func TestUnknownParticipantRejectedBeforeDispatch(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"coder", "engineer", nil, scripted("", nil)},
	})

	_, err := e.Execute(context.Background(), "task", TypeSequential, []string{"coder", "ghost"})
	var unknown *ErrUnknownParticipant
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownParticipant, got %v", err)
	}
	if unknown.Name != "ghost" {
		t.Errorf("error names %q", unknown.Name)
	}
}

func TestCancelParallelMarksPendingCancelled(t *testing.T) {
	started := make(chan string, 2)
	fastDone := make(chan struct{})
	e := newTestEngine(t, []registration{
		{"fast", "assistant", nil, specialist.InvokeFunc(func(context.Context, string) (string, error) {
			close(fastDone)
			return "done", nil
		})},
		{"slow1", "assistant", nil, blocking(started, "slow1")},
		{"slow2", "assistant", nil, blocking(started, "slow2")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fastDone
		<-started
		<-started
		cancel()
	}()

	exec, err := e.Execute(ctx, "task", TypeParallel, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", exec.Status)
	}
	if !exec.Cancelled {
		t.Error("execution should carry the cancelled marker")
	}
	if exec.Summary != "" {
		t.Errorf("no consolidation after cancellation, summary = %q", exec.Summary)
	}

	byName := map[string]StepResult{}
	for _, step := range exec.Steps {
		byName[step.Specialist] = step
	}
	if byName["fast"].Status != StepCompleted {
		t.Errorf("completed step lost: %+v", byName["fast"])
	}
	for _, name := range []string{"slow1", "slow2"} {
		if byName[name].Status != StepCancelled {
			t.Errorf("%s = %s, want cancelled (not failed)", name, byName[name].Status)
		}
	}
}

func TestCancelSequentialSkipsRemaining(t *testing.T) {
	started := make(chan string, 1)
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("ok", nil)},
		{"b", "assistant", nil, blocking(started, "b")},
		{"c", "assistant", nil, scripted("never", nil)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	exec, err := e.Execute(ctx, "task", TypeSequential, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed || !exec.Cancelled {
		t.Fatalf("status = %s cancelled=%v", exec.Status, exec.Cancelled)
	}
	if len(exec.Steps) != 3 {
		t.Fatalf("steps = %d, want 3 (never-attempted recorded as cancelled)", len(exec.Steps))
	}
	if exec.Steps[2].Status != StepCancelled {
		t.Errorf("never-attempted step = %s, want cancelled", exec.Steps[2].Status)
	}
}

func TestStepTimeoutIsFailureNotCancellation(t *testing.T) {
	reg := specialist.New(nil)
	reg.Add("slow", "assistant", nil, specialist.InvokeFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), specialist.ModelConfig{})

	e := NewEngine(reg, router.New(nil, ""), nil, nil, 30*time.Millisecond)
	exec, err := e.Execute(context.Background(), "task", TypeSequential, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.Cancelled {
		t.Error("timeout must not set the cancelled marker")
	}
	if exec.Steps[0].Status != StepFailed {
		t.Errorf("step = %s, want failed", exec.Steps[0].Status)
	}
	if !strings.Contains(exec.Steps[0].Error, "timed out") {
		t.Errorf("step error = %q", exec.Steps[0].Error)
	}
}

func TestStatusTransitions(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("ok", nil)},
	})

	exec, err := e.Execute(context.Background(), "task", TypeSequential, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !exec.Terminal() {
		t.Error("finished execution not terminal")
	}
	if exec.CompletedAt.Before(exec.StartedAt) {
		t.Error("completed_at precedes started_at")
	}
}

func TestStepsJSONRoundTrips(t *testing.T) {
	e := newTestEngine(t, []registration{
		{"a", "assistant", nil, scripted("ok", nil)},
	})
	exec, _ := e.Execute(context.Background(), "task", TypeSequential, nil)

	var steps []StepResult
	if err := json.Unmarshal(exec.StepsJSON(), &steps); err != nil {
		t.Fatalf("unmarshal steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Specialist != "a" {
		t.Errorf("steps = %+v", steps)
	}
}

func TestEndToEndScenario(t *testing.T) {
	// A calculation task routed conditionally lands on the analyst, runs,
	// and yields a completed execution with one step.
	e := newTestEngine(t, []registration{
		{"coder", "engineer", []string{"code", "debug", "refactor"}, scripted("code", nil)},
		{"analyst", "analyst", []string{"data", "analysis", "calculation", "arithmetic"}, specialist.InvokeFunc(
			func(context.Context, string) (string, error) {
				return fmt.Sprintf("15%% of 250 is %g", 0.15*250), nil
			})},
		{"general", "assistant", []string{"general"}, scripted("general", nil)},
	})

	exec, err := e.Execute(context.Background(), "Calculate 15% of 250", TypeConditional, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Decision.Selected != "analyst" {
		t.Fatalf("routed to %s, want analyst", exec.Decision.Selected)
	}
	if exec.Status != StatusCompleted {
		t.Fatalf("status = %s", exec.Status)
	}
	if !strings.Contains(exec.Summary, "37.5") {
		t.Errorf("summary = %q", exec.Summary)
	}
}
