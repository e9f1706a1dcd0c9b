// Package tools holds the executor registry. Executors are opaque
// collaborators: the pipeline authorizes and vets an invocation, then hands
// it to the registered executor under supervision.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Capabilities describes what an executor may touch. The policy gate and
// vetter use this metadata when deciding how strictly to treat a tool.
type Capabilities struct {
	ReadsFiles    bool
	WritesFiles   bool
	NetworkAccess bool
	RunsCommands  bool
}

// Executor runs one tool invocation. Implementations must honor ctx
// cancellation; they run under the execution supervisor's deadline.
type Executor interface {
	Name() string
	Capabilities() Capabilities
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Registry maps tool names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[e.Name()]; exists {
		return fmt.Errorf("tool %q already registered", e.Name())
	}
	r.executors[e.Name()] = e
	return nil
}

func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}
