package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mtzanidakis/maestros/internal/specialist"
)

// SubTask is one entry of a coordinator's decomposition.
type SubTask struct {
	Specialist string `json:"specialist"`
	Task       string `json:"task"`
}

// buildCoordinatorPrompt gives the coordinator the task plus a manifest of
// the available workers and asks for a machine-readable plan.
func buildCoordinatorPrompt(task string, workers []specialist.ManifestEntry) string {
	var sb strings.Builder

	sb.WriteString("## Task\n\n")
	sb.WriteString(task)
	sb.WriteString("\n\n## Available Specialists\n\n")
	for _, w := range workers {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", w.Name, w.Role, strings.Join(w.Capabilities, ", "))
	}
	sb.WriteString("\nBreak the task into ordered sub-tasks and assign each to one of the specialists above.\n")
	sb.WriteString("Respond with ONLY a JSON array, no other text:\n")
	sb.WriteString(`[{"specialist": "<name>", "task": "<sub-task description>"}]` + "\n")
	return sb.String()
}

// ParseDecomposition extracts and validates the coordinator's plan. Unknown
// specialist references are never silently dropped: any reference outside
// the known worker set rejects the whole plan.
func ParseDecomposition(output string, known map[string]bool) ([]SubTask, error) {
	raw := extractJSONArray(output)
	if raw == "" {
		return nil, &DecompositionError{Reason: "no JSON array in coordinator output"}
	}

	var plan []SubTask
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, &DecompositionError{Reason: fmt.Sprintf("unparseable plan: %v", err)}
	}
	if len(plan) == 0 {
		return nil, &DecompositionError{Reason: "empty plan"}
	}

	for i, sub := range plan {
		if sub.Specialist == "" || sub.Task == "" {
			return nil, &DecompositionError{Reason: fmt.Sprintf("sub-task %d missing specialist or task", i)}
		}
		if !known[sub.Specialist] {
			return nil, &DecompositionError{Reason: fmt.Sprintf("sub-task %d references unknown specialist %q", i, sub.Specialist)}
		}
	}
	return plan, nil
}

// extractJSONArray tolerates prose around the array: models sometimes wrap
// the plan in commentary or a code fence despite instructions.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
