package protocol

import (
	"context"

	"github.com/HMasataka/relay/pkg/domain"
)

// Handler defines the interface for handling inbound events
type Handler interface {
	// Handle processes a decoded event
	Handle(ctx context.Context, evt domain.Inbound) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, evt domain.Inbound) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, evt domain.Inbound) error {
	return f(ctx, evt)
}

// Router dispatches inbound events to the handler registered for their type.
// It is not safe for concurrent registration; build it before use.
type Router struct {
	handlers map[domain.EventType]Handler
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[domain.EventType]Handler),
	}
}

// Register registers a handler for an event type
func (r *Router) Register(eventType domain.EventType, handler Handler) {
	r.handlers[eventType] = handler
}

// Get retrieves the handler for an event type
func (r *Router) Get(eventType domain.EventType) (Handler, bool) {
	handler, ok := r.handlers[eventType]
	return handler, ok
}

// Handle routes evt to its handler
func (r *Router) Handle(ctx context.Context, evt domain.Inbound) error {
	handler, ok := r.Get(evt.EventType())
	if !ok {
		return domain.ErrUnknownEvent.WithDetails(string(evt.EventType()))
	}

	return handler.Handle(ctx, evt)
}
