package actions

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes one action to completion
type Handler func(ctx context.Context, job Job) error

// Registry maps action tags to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[Action]Handler
}

// NewRegistry creates a new action registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Action]Handler),
	}
}

// Register adds a handler for an action
func (r *Registry) Register(action Action, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[action]; exists {
		return fmt.Errorf("action %q already registered", action)
	}

	r.handlers[action] = handler
	return nil
}

// Get retrieves the handler for an action
func (r *Registry) Get(action Action) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[action]
	return handler, exists
}

// Names returns all registered action names in catalog order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for _, a := range All {
		if _, ok := r.handlers[a]; ok {
			names = append(names, string(a))
		}
	}
	return names
}
