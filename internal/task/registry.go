// Package task runs operator requests on a bounded worker pool. Every task
// row moves from running to success or error exactly once.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vstu/timetable-tracker/internal/model"
)

type Handler interface {
	Action() string
	Run(ctx context.Context, task *model.Task) (model.JSON, error)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	action := h.Action()
	if action == "" {
		return fmt.Errorf("handler Action() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[action]; exists {
		return fmt.Errorf("handler already registered for action=%s", action)
	}
	r.handlers[action] = h
	return nil
}

func (r *Registry) Get(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
