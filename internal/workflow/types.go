package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/maestros/internal/router"
)

// Type is the closed set of workflow patterns. Adding or removing a pattern
// is a compile-time-checked change: every switch over Type has no default
// dispatch arm.
type Type string

const (
	TypeSequential   Type = "sequential"
	TypeParallel     Type = "parallel"
	TypeConditional  Type = "conditional"
	TypeHierarchical Type = "hierarchical"
)

// ParseType validates a wire-format workflow type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeSequential, TypeParallel, TypeConditional, TypeHierarchical:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown workflow type %q", s)
}

// Status values are monotonically non-decreasing: pending → running →
// completed|failed. An execution never re-enters pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step statuses. Cancelled means the step was never attempted or was
// interrupted by cancellation, as opposed to attempted-and-failed.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepCancelled = "cancelled"
)

// StepResult records one specialist invocation within an execution.
type StepResult struct {
	Specialist string `json:"specialist"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Execution is a workflow run. Exclusively owned by the engine goroutine
// driving it until a terminal status, read-only afterwards.
type Execution struct {
	ID           string           `json:"id"`
	Type         Type             `json:"workflow_type"`
	Task         string           `json:"task"`
	Participants []string         `json:"participants"`
	Status       Status           `json:"status"`
	Steps        []StepResult     `json:"steps"`
	Summary      string           `json:"summary,omitempty"`
	Error        string           `json:"error,omitempty"`
	Cancelled    bool             `json:"cancelled,omitempty"`
	Decision     *router.Decision `json:"routing_decision,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at,omitzero"`
}

// Terminal reports whether the execution reached a final status.
func (e *Execution) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// StepsJSON renders the step records for persistence.
func (e *Execution) StepsJSON() json.RawMessage {
	data, err := json.Marshal(e.Steps)
	if err != nil {
		return nil
	}
	return data
}

// DecompositionError marks a hierarchical coordinator output the engine
// refuses to execute: unparseable, empty, or referencing unknown
// specialists. The whole execution fails; no sub-task is dispatched.
type DecompositionError struct {
	Reason string
}

func (e *DecompositionError) Error() string {
	return "invalid decomposition: " + e.Reason
}

// ErrUnknownParticipant is a configuration error: the submitted participant
// list references a specialist the registry does not hold. Rejected before
// any dispatch.
type ErrUnknownParticipant struct {
	Name string
}

func (e *ErrUnknownParticipant) Error() string {
	return fmt.Sprintf("unknown participant %q", e.Name)
}
