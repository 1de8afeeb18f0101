// Package runner executes individual test cases on an agent. Implementations
// wrap the external test runner; splay itself never interprets test output
// beyond pass, fail or error.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/splay/internal/model"
)

// Runner executes one test case. A (result, nil) return is a normal outcome,
// including fail and error statuses, and is acked with its batch. A non-nil
// error means the batch itself was lost (the process is crashing or the
// environment is gone): the caller must not ack, so the lease expires and the
// batch is requeued to another agent.
type Runner interface {
	Run(ctx context.Context, tc model.TestCase) (model.RunResult, error)
}

// Registry holds named runners and resolves which one an agent uses.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a runner under the given name.
func (r *Registry) Register(name string, rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = rn
}

// Resolve returns the runner registered under name.
func (r *Registry) Resolve(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rn, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("runner %q is not registered", name)
	}
	return rn, nil
}

// List returns registered runner names, sorted for stable output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
