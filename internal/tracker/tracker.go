// Package tracker owns the lifecycle of workflow submissions: it hands out
// execution IDs immediately, drives the engine in the background, serves
// status queries while runs are in flight, and supports cancellation. The
// store keeps the full history; the tracker keeps a bounded window of recent
// executions in memory for fast reads.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mtzanidakis/maestros/internal/store"
	"github.com/mtzanidakis/maestros/internal/workflow"
)

// DefaultMaxRetained bounds the in-memory window of terminal executions.
const DefaultMaxRetained = 1024

type entry struct {
	exec   *workflow.Execution
	cancel context.CancelFunc
}

// Tracker submits workflows asynchronously and tracks their executions.
type Tracker struct {
	engine      *workflow.Engine
	store       *store.Store
	maxRetained int

	mu       sync.RWMutex
	active   map[string]*entry
	retained []string // terminal execution IDs, oldest first

	wg sync.WaitGroup
}

func New(engine *workflow.Engine, s *store.Store, maxRetained int) *Tracker {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &Tracker{
		engine:      engine,
		store:       s,
		maxRetained: maxRetained,
		active:      make(map[string]*entry),
	}
}

// Submit validates the request, assigns an execution ID and starts the run
// in the background. Configuration errors (unknown participants, empty
// registry, invalid workflow type) are returned here; runtime failures are
// recorded on the execution instead.
func (t *Tracker) Submit(ctx context.Context, task string, wfType workflow.Type, participants []string) (string, error) {
	if task == "" {
		return "", fmt.Errorf("empty task")
	}
	if _, err := workflow.ParseType(string(wfType)); err != nil {
		return "", err
	}
	if err := t.engine.ValidateParticipants(wfType, participants); err != nil {
		return "", err
	}

	id := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t.mu.Lock()
	t.active[id] = &entry{
		exec: &workflow.Execution{
			ID:           id,
			Type:         wfType,
			Task:         task,
			Participants: participants,
			Status:       workflow.StatusPending,
		},
		cancel: cancel,
	}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		t.markRunning(id)
		exec, err := t.engine.ExecuteAs(runCtx, id, task, wfType, participants)
		if err != nil && exec == nil {
			exec = &workflow.Execution{
				ID:           id,
				Type:         wfType,
				Task:         task,
				Participants: participants,
				Status:       workflow.StatusFailed,
				Error:        err.Error(),
			}
		}
		t.settle(exec)
	}()

	slog.Info("workflow submitted", "id", id, "type", wfType, "participants", len(participants))
	return id, nil
}

// markRunning flips the tracked placeholder so status queries observe the
// run the moment its goroutine starts, not only after it settles.
func (t *Tracker) markRunning(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[id]; ok {
		e.exec.Status = workflow.StatusRunning
	}
}

// settle swaps the placeholder for the final execution and evicts the
// oldest retained entries past the window.
func (t *Tracker) settle(exec *workflow.Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.active[exec.ID]
	if !ok {
		return
	}
	e.exec = exec
	e.cancel = nil
	t.retained = append(t.retained, exec.ID)

	for len(t.retained) > t.maxRetained {
		evict := t.retained[0]
		t.retained = t.retained[1:]
		delete(t.active, evict)
	}
}

// Status returns a snapshot of an execution. Recent runs come from memory;
// evicted ones fall back to the store. Returns nil when the ID is unknown.
func (t *Tracker) Status(id string) (*workflow.Execution, error) {
	t.mu.RLock()
	e, ok := t.active[id]
	if ok {
		snapshot := *e.exec
		t.mu.RUnlock()
		return &snapshot, nil
	}
	t.mu.RUnlock()

	if t.store == nil {
		return nil, nil
	}
	rec, err := t.store.GetExecution(id)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return fromRecord(rec), nil
}

// List returns executions newest first, optionally filtered by status. The
// store is authoritative when present; otherwise only the in-memory window
// is visible.
func (t *Tracker) List(status string, limit int) ([]*workflow.Execution, error) {
	if t.store != nil {
		recs, err := t.store.ListExecutions(status, limit)
		if err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		out := make([]*workflow.Execution, 0, len(recs))
		for i := range recs {
			out = append(out, fromRecord(&recs[i]))
		}
		return out, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*workflow.Execution
	for i := len(t.retained) - 1; i >= 0; i-- {
		e, ok := t.active[t.retained[i]]
		if !ok {
			continue
		}
		if status != "" && string(e.exec.Status) != status {
			continue
		}
		snapshot := *e.exec
		out = append(out, &snapshot)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Cancel requests cancellation of an in-flight execution. Cancelling a
// terminal or unknown execution is a no-op and reports false.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.active[id]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	slog.Info("workflow cancellation requested", "id", id)
	return true
}

// Wait blocks until every submitted execution reaches a terminal status.
// Intended for shutdown and tests.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func fromRecord(rec *store.ExecutionRecord) *workflow.Execution {
	exec := &workflow.Execution{
		ID:           rec.ID,
		Type:         workflow.Type(rec.WorkflowType),
		Task:         rec.Task,
		Participants: rec.Participants,
		Status:       workflow.Status(rec.Status),
		Summary:      rec.Summary,
		Error:        rec.Error,
		StartedAt:    rec.StartedAt,
	}
	if rec.CompletedAt != nil {
		exec.CompletedAt = *rec.CompletedAt
	}
	if len(rec.Steps) > 0 {
		if err := json.Unmarshal(rec.Steps, &exec.Steps); err != nil {
			slog.Warn("corrupt step record", "id", rec.ID, "error", err)
		}
	}
	return exec
}
