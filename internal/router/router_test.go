package router

import (
	"context"
	"errors"
	"testing"

	"github.com/mtzanidakis/maestros/internal/specialist"
)

func newSpecialist(t *testing.T, reg *specialist.Registry, name, role string, caps []string) *specialist.Specialist {
	t.Helper()
	sp, err := reg.Add(name, role, caps, specialist.InvokeFunc(func(context.Context, string) (string, error) {
		return "", nil
	}), specialist.ModelConfig{})
	if err != nil {
		t.Fatalf("failed to add %s: %v", name, err)
	}
	return sp
}

func testPool(t *testing.T) []*specialist.Specialist {
	t.Helper()
	reg := specialist.New(nil)
	newSpecialist(t, reg, "coder", "engineer", []string{"code", "debug", "refactor"})
	newSpecialist(t, reg, "analyst", "analyst", []string{"data", "analysis", "calculation", "arithmetic"})
	newSpecialist(t, reg, "writer", "writer", []string{"writing", "content", "edit"})
	newSpecialist(t, reg, "general", "assistant", []string{"general"})
	return reg.List()
}

func TestRouteSelectsByKeyword(t *testing.T) {
	r := New(nil, "")
	pool := testPool(t)

	d, err := r.Route("Please debug this code and refactor it", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Selected != "coder" {
		t.Errorf("expected coder, got %s", d.Selected)
	}
	if d.Fallback {
		t.Error("should not be a fallback selection")
	}
}

func TestRouteCalculationTask(t *testing.T) {
	r := New(nil, "")
	pool := testPool(t)

	d, err := r.Route("Calculate 15% of 250 and explain the calculation", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Selected != "analyst" {
		t.Errorf("expected analyst, got %s", d.Selected)
	}
}

func TestRouteCaseInsensitive(t *testing.T) {
	r := New(nil, "")
	pool := testPool(t)

	d, err := r.Route("DEBUG the failing service", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Selected != "coder" {
		t.Errorf("expected coder, got %s", d.Selected)
	}
}

func TestRouteTieGoesToEarliest(t *testing.T) {
	reg := specialist.New(nil)
	newSpecialist(t, reg, "first", "engineer", []string{"alpha"})
	newSpecialist(t, reg, "second", "engineer", []string{"alpha"})

	r := New(nil, "")
	d, err := r.Route("an alpha task", reg.List())
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Selected != "first" {
		t.Errorf("tie should go to earliest registered, got %s", d.Selected)
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := New(nil, "")
	pool := testPool(t)

	first, err := r.Route("analysis of the data", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for i := 0; i < 10; i++ {
		d, err := r.Route("analysis of the data", pool)
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if d.Selected != first.Selected {
			t.Fatalf("routing not deterministic: %s then %s", first.Selected, d.Selected)
		}
	}
}

func TestRouteFallbackToDefaultRole(t *testing.T) {
	r := New(nil, "assistant")
	pool := testPool(t)

	d, err := r.Route("something entirely unrelated", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Selected != "general" {
		t.Errorf("expected fallback to general, got %s", d.Selected)
	}
	if !d.Fallback {
		t.Error("decision should be marked as fallback")
	}
}

func TestRouteNoMatch(t *testing.T) {
	reg := specialist.New(nil)
	newSpecialist(t, reg, "coder", "engineer", []string{"code"})

	r := New(nil, "assistant")
	_, err := r.Route("something entirely unrelated", reg.List())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestKeywordCountsOnce(t *testing.T) {
	s := KeywordScorer{}
	score := s.Score("code code code everywhere", []string{"code"})
	if score != 1 {
		t.Errorf("repeated keyword should count once, got %d", score)
	}
}

func TestDecisionRecordsAllCandidates(t *testing.T) {
	r := New(nil, "")
	pool := testPool(t)

	d, err := r.Route("debug the data analysis code", pool)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(d.Candidates) != len(pool) {
		t.Fatalf("expected %d candidates, got %d", len(pool), len(d.Candidates))
	}
	if d.SelectedSpecialist() == nil {
		t.Fatal("selected specialist not resolvable from decision")
	}
}
