package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Registry holds every pass for a run, in registration order.
// Registration order is the tie-breaker that keeps wave contents and
// execution order reproducible.
type Registry struct {
	mu     sync.RWMutex
	passes []Pass
	index  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register adds a pass. It fails with ErrDuplicateName if the name is taken.
func (r *Registry) Register(pass Pass) error {
	if pass == nil {
		return errors.New("cannot register nil pass")
	}
	name := pass.Name()
	if name == "" {
		return errors.New("pass name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[name]; exists {
		return fmt.Errorf("registering %q: %w", name, ErrDuplicateName)
	}

	r.index[name] = len(r.passes)
	r.passes = append(r.passes, pass)
	return nil
}

// MustRegister registers each pass and panics on error. Intended for
// static pass tables and tests.
func (r *Registry) MustRegister(passes ...Pass) *Registry {
	for _, p := range passes {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns a registered pass by name.
func (r *Registry) Get(name string) (Pass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[name]
	if !exists {
		return nil, false
	}
	return r.passes[i], true
}

// Passes returns all passes in registration order.
func (r *Registry) Passes() []Pass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.passes)
}

// Names returns all pass names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.passes))
	for i, p := range r.passes {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of registered passes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.passes)
}

// Validate checks the dependency graph: every dependency must name a
// registered pass, and the graph must be acyclic. It returns an
// *UnknownDependencyError or a *CycleError describing the first problem
// found in registration order.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.passes {
		for _, dep := range p.Dependencies() {
			if _, exists := r.index[dep]; !exists {
				return &UnknownDependencyError{Pass: p.Name(), Dependency: dep}
			}
		}
	}

	if cycle := r.detectCycle(); len(cycle) > 0 {
		return &CycleError{Cycle: cycle}
	}
	return nil
}

// detectCycle uses DFS over dependency edges to find a cycle.
// Returns the cycle path if found, nil otherwise.
func (r *Registry) detectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, neighbor := range r.passes[r.index[node]].Dependencies() {
			if !visited[neighbor] {
				if dfs(neighbor) {
					return true
				}
			} else if recStack[neighbor] {
				// Found a cycle - keep only the part of the path on it
				cycleStart := slices.Index(path, neighbor)
				path = slices.Clone(path[cycleStart:])
				return true
			}
		}

		recStack[node] = false
		path = path[:len(path)-1] // Backtrack
		return false
	}

	for _, p := range r.passes {
		if !visited[p.Name()] {
			path = path[:0]
			if dfs(p.Name()) {
				return path
			}
		}
	}

	return nil
}
