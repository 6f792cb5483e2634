package bridge

import (
	"context"
	"sort"

	"github.com/scpi-bridge/internal/scpi"
)

// QueryHandler answers a device-specific query. Handlers see the full
// command, subject included, so they can address channels or the trigger.
type QueryHandler interface {
	// Handle returns the reply text without its terminator. Returning an
	// error wrapping ErrUnrecognized suppresses the reply.
	Handle(ctx context.Context, cmd scpi.Command) (string, error)

	// GetName returns the verb the handler answers
	GetName() string

	// GetDescription returns a human-readable description
	GetDescription() string
}

// QueryRegistry manages device-specific queries keyed by verb
type QueryRegistry struct {
	handlers map[string]QueryHandler
}

// NewQueryRegistry creates a new query registry
func NewQueryRegistry() *QueryRegistry {
	return &QueryRegistry{
		handlers: make(map[string]QueryHandler),
	}
}

// Register adds a query handler to the registry
func (r *QueryRegistry) Register(handler QueryHandler) {
	r.handlers[handler.GetName()] = handler
}

// Get returns a query handler by verb
func (r *QueryRegistry) Get(name string) (QueryHandler, bool) {
	handler, exists := r.handlers[name]
	return handler, exists
}

// List returns all registered verbs in sorted order
func (r *QueryRegistry) List() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueryFunc adapts a function to QueryHandler
type QueryFunc struct {
	Name        string
	Description string
	Func        func(ctx context.Context, cmd scpi.Command) (string, error)
}

func (q *QueryFunc) Handle(ctx context.Context, cmd scpi.Command) (string, error) {
	return q.Func(ctx, cmd)
}

func (q *QueryFunc) GetName() string {
	return q.Name
}

func (q *QueryFunc) GetDescription() string {
	return q.Description
}
