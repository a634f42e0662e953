package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mtzanidakis/maestros/internal/store"
)

// ErrDuplicateName is returned by Add when the name is already registered.
type ErrDuplicateName struct {
	Name string
}

func (e *ErrDuplicateName) Error() string {
	return fmt.Sprintf("specialist %q already registered", e.Name)
}

// Registry holds the workspace's specialists in insertion order. Mutation is
// expected only during setup/teardown; reads from concurrent executions are
// safe under the RWMutex.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Specialist
	order   []string
	store   *store.Store
	nextOrd int
}

// New creates an empty registry. The store may be nil; when set, a snapshot
// of each specialist is persisted for status queries.
func New(s *store.Store) *Registry {
	return &Registry{
		byName: make(map[string]*Specialist),
		store:  s,
	}
}

// Add registers a specialist. The capability set and config are copied and
// immutable afterwards.
func (r *Registry) Add(name, role string, capabilities []string, handle Invoker, cfg ModelConfig) (*Specialist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &ErrDuplicateName{Name: name}
	}

	sp := &Specialist{
		Name:         name,
		Role:         role,
		Capabilities: append([]string(nil), capabilities...),
		Config:       cfg,
		handle:       handle,
		ordinal:      r.nextOrd,
	}
	r.nextOrd++

	r.byName[name] = sp
	r.order = append(r.order, name)

	if r.store != nil {
		rec := &store.SpecialistRecord{
			Name:         sp.Name,
			Role:         sp.Role,
			Capabilities: sp.Capabilities,
			Model:        cfg.Model,
			Ordinal:      sp.ordinal,
		}
		if err := r.store.SaveSpecialist(rec); err != nil {
			slog.Warn("failed to persist specialist snapshot", "specialist", name, "error", err)
		}
	}

	slog.Info("specialist registered", "specialist", name, "role", role, "capabilities", capabilities)
	return sp, nil
}

// Remove deregisters a specialist and shuts down its handle. Removing an
// unknown name is a no-op.
func (r *Registry) Remove(ctx context.Context, name string) {
	r.mu.Lock()
	sp, exists := r.byName[name]
	if exists {
		delete(r.byName, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	if lc, ok := sp.handle.(Lifecycle); ok {
		if err := lc.Shutdown(ctx); err != nil {
			slog.Warn("specialist handle shutdown failed", "specialist", name, "error", err)
		}
	}
	if r.store != nil {
		_ = r.store.DeleteSpecialist(name)
	}
	slog.Info("specialist removed", "specialist", name)
}

func (r *Registry) Get(name string) (*Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.byName[name]
	return sp, ok
}

// List returns specialists in insertion order. The slice is a copy; entries
// are shared.
func (r *Registry) List() []*Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Specialist, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// InitializeAll initializes every specialist handle that implements
// Lifecycle. Initialization is independent per specialist: failures are
// collected and returned keyed by name, successfully initialized ones stay
// usable.
func (r *Registry) InitializeAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, sp := range r.List() {
		lc, ok := sp.handle.(Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Initialize(ctx); err != nil {
			slog.Error("specialist initialization failed", "specialist", sp.Name, "error", err)
			failures[sp.Name] = err
			continue
		}
		slog.Info("specialist initialized", "specialist", sp.Name)
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// ShutdownAll shuts down every specialist handle that implements Lifecycle.
// Errors are logged, not returned; teardown keeps going.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for _, sp := range r.List() {
		if lc, ok := sp.handle.(Lifecycle); ok {
			if err := lc.Shutdown(ctx); err != nil {
				slog.Warn("specialist shutdown failed", "specialist", sp.Name, "error", err)
			}
		}
	}
}

// Manifest returns the role/capability description of every specialist
// except the named one. The hierarchical coordinator receives this so it can
// assign sub-tasks.
func (r *Registry) Manifest(exclude string) []ManifestEntry {
	var entries []ManifestEntry
	for _, sp := range r.List() {
		if sp.Name == exclude {
			continue
		}
		entries = append(entries, ManifestEntry{
			Name:         sp.Name,
			Role:         sp.Role,
			Capabilities: sp.Capabilities,
		})
	}
	return entries
}

// ManifestEntry describes one specialist to a coordinator.
type ManifestEntry struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}
