package router

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/maestros/internal/specialist"
)

// ErrNoMatch is returned when no candidate scores above zero and no
// default-role fallback exists in the candidate set.
var ErrNoMatch = errors.New("no specialist matches the task")

// Scorer computes a relevance score for a capability set against a task.
// The default is substring keyword matching; smarter strategies plug in
// here without touching the engine.
type Scorer interface {
	Score(task string, capabilities []string) int
}

// KeywordScorer counts how many capability keywords appear as substrings of
// the case-folded task. Each keyword counts at most once.
type KeywordScorer struct{}

func (KeywordScorer) Score(task string, capabilities []string) int {
	folded := strings.ToLower(task)
	score := 0
	for _, cap := range capabilities {
		if cap == "" {
			continue
		}
		if strings.Contains(folded, strings.ToLower(cap)) {
			score++
		}
	}
	return score
}

// Candidate pairs a specialist with its relevance score.
type Candidate struct {
	Specialist *specialist.Specialist `json:"-"`
	Name       string                 `json:"name"`
	Score      int                    `json:"score"`
}

// Decision records one routing call: the task, every scored candidate, and
// the selection. Ephemeral, but attachable to an execution for audit.
type Decision struct {
	Task       string      `json:"task"`
	Candidates []Candidate `json:"candidates"`
	Selected   string      `json:"selected"`
	Fallback   bool        `json:"fallback,omitempty"`
}

// Router selects specialists by capability relevance. Routing is
// deterministic and explainable rather than optimal: same task, same
// candidate order, same decision.
type Router struct {
	scorer      Scorer
	defaultRole string
}

func New(scorer Scorer, defaultRole string) *Router {
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	if defaultRole == "" {
		defaultRole = "assistant"
	}
	return &Router{scorer: scorer, defaultRole: defaultRole}
}

// Route scores every candidate and selects the single best match. Ties go to
// the candidate earliest in registry insertion order. If every score is
// zero, the first candidate whose role matches the default role is selected;
// with no such candidate the call fails with ErrNoMatch.
func (r *Router) Route(task string, candidates []*specialist.Specialist) (*Decision, error) {
	d := &Decision{Task: task}

	var best *specialist.Specialist
	bestScore := 0
	for _, sp := range candidates {
		score := r.scorer.Score(task, sp.Capabilities)
		d.Candidates = append(d.Candidates, Candidate{Specialist: sp, Name: sp.Name, Score: score})
		// Strictly greater keeps the earliest candidate on ties.
		if score > bestScore {
			best = sp
			bestScore = score
		}
	}

	if best == nil {
		best = r.fallback(candidates)
		if best == nil {
			return nil, ErrNoMatch
		}
		d.Fallback = true
	}

	d.Selected = best.Name
	slog.Debug("routed task", "selected", d.Selected, "score", bestScore, "fallback", d.Fallback)
	return d, nil
}

func (r *Router) fallback(candidates []*specialist.Specialist) *specialist.Specialist {
	for _, sp := range candidates {
		if strings.EqualFold(sp.Role, r.defaultRole) {
			return sp
		}
	}
	return nil
}

// Selected resolves the decision back to the chosen specialist.
func (d *Decision) SelectedSpecialist() *specialist.Specialist {
	for _, c := range d.Candidates {
		if c.Name == d.Selected {
			return c.Specialist
		}
	}
	return nil
}
