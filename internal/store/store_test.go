package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s2.Close()
}

func TestSpecialistRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := &SpecialistRecord{
		Name:         "coder",
		Role:         "engineer",
		Capabilities: []string{"code", "debug"},
		Model:        "claude-sonnet-4",
		Ordinal:      0,
	}
	if err := s.SaveSpecialist(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetSpecialist("coder")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Role != "engineer" || len(got.Capabilities) != 2 {
		t.Errorf("got %+v", got)
	}

	// Upsert updates in place
	rec.Role = "senior engineer"
	if err := s.SaveSpecialist(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.GetSpecialist("coder")
	if got.Role != "senior engineer" {
		t.Errorf("upsert did not update role: %s", got.Role)
	}

	if err := s.DeleteSpecialist("coder"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.GetSpecialist("coder")
	if got != nil {
		t.Error("specialist present after delete")
	}
}

func TestListSpecialistsOrdinalOrder(t *testing.T) {
	s := newTestStore(t)

	for i, name := range []string{"third", "first", "second"} {
		ord := map[string]int{"first": 0, "second": 1, "third": 2}[name]
		if err := s.SaveSpecialist(&SpecialistRecord{Name: name, Role: "assistant", Ordinal: ord}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	recs, err := s.ListSpecialists()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if recs[i].Name != want[i] {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].Name, want[i])
		}
	}
}

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New().String()

	rec := &ExecutionRecord{
		ID:           id,
		WorkflowType: "parallel",
		Task:         "analyze everything",
		Participants: []string{"coder", "analyst"},
		Status:       "pending",
	}
	if err := s.SaveExecution(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetExecution(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "pending" || got.CompletedAt != nil {
		t.Errorf("got %+v", got)
	}
	if len(got.Participants) != 2 {
		t.Errorf("participants = %v", got.Participants)
	}

	steps, _ := json.Marshal([]map[string]string{{"specialist": "coder", "status": "completed"}})
	if err := s.UpdateExecution(id, "completed", steps, "all done", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ = s.GetExecution(id)
	if got.Status != "completed" || got.Summary != "all done" {
		t.Errorf("got %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on terminal update")
	}
	if len(got.Steps) == 0 {
		t.Error("steps lost")
	}
}

func TestGetExecutionMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetExecution("missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListExecutionsFilterAndLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		status := "completed"
		if i == 0 {
			status = "failed"
		}
		err := s.SaveExecution(&ExecutionRecord{
			ID:           uuid.New().String(),
			WorkflowType: "sequential",
			Task:         "t",
			Participants: []string{"a"},
			Status:       status,
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	completed, err := s.ListExecutions("completed", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("completed = %d, want 2", len(completed))
	}

	limited, err := s.ListExecutions("", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}

	counts, err := s.CountExecutionsByStatus()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["completed"] != 2 || counts["failed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestScheduledTaskDue(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &ScheduledTask{
		ID: "due", Name: "due task", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Task: "t", WorkflowType: "sequential", Status: "active", NextRunAt: &past,
	}
	notDue := &ScheduledTask{
		ID: "later", Name: "later task", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Task: "t", WorkflowType: "sequential", Status: "active", NextRunAt: &future,
	}
	paused := &ScheduledTask{
		ID: "paused", Name: "paused task", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Task: "t", WorkflowType: "sequential", Status: "paused", NextRunAt: &past,
	}
	for _, task := range []*ScheduledTask{due, notDue, paused} {
		if err := s.SaveTask(task); err != nil {
			t.Fatalf("save %s: %v", task.ID, err)
		}
	}

	got, err := s.GetDueTasks(time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		t.Errorf("due tasks = %+v", got)
	}

	next := time.Now().Add(time.Minute)
	if err := s.UpdateTaskRun("due", "submitted", "", &next); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, _ = s.GetDueTasks(time.Now())
	if len(got) != 0 {
		t.Errorf("task still due after advance: %+v", got)
	}

	updated, _ := s.GetTask("due")
	if updated.LastStatus != "submitted" || updated.LastRunAt == nil {
		t.Errorf("run not recorded: %+v", updated)
	}
}
