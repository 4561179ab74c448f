package pipeline

import (
	"fmt"
)

// Registry maps stage IDs to their handlers. Populated once at startup;
// read-only afterwards.
type Registry struct {
	handlers map[StageID]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[StageID]Handler)}
}

// Register adds a handler under its descriptor's stage ID. Registering a
// handler for an unknown stage or twice for the same stage is a wiring
// bug and panics at startup.
func (r *Registry) Register(h Handler) {
	id := h.Descriptor().ID
	if !KnownStage(id) {
		panic(fmt.Sprintf("pipeline: handler registered for unknown stage %q", id))
	}
	if _, dup := r.handlers[id]; dup {
		panic(fmt.Sprintf("pipeline: duplicate handler for stage %q", id))
	}
	r.handlers[id] = h
}

// Get returns the handler for a stage.
func (r *Registry) Get(id StageID) (Handler, error) {
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("no handler registered for stage %q", id)
	}
	return h, nil
}

// Stages returns the registered stage IDs in pipeline order.
func (r *Registry) Stages() []StageID {
	out := make([]StageID, 0, len(r.handlers))
	for _, id := range StageOrder() {
		if _, ok := r.handlers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
