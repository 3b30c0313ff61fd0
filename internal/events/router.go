package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by Dispatch when no handler is registered
// for the (namespace, event) pair.
var ErrUnknownEvent = errors.New("events: unknown event")

// Handler processes one ingress event's raw JSON payload and returns the
// value a transport adapter should marshal back, or nil if the event has
// no direct reply (its effect, if any, surfaces later through the
// Broadcaster).
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

type route struct {
	namespace Namespace
	event     string
}

// Router is the event-name-to-handler routing table a transport adapter
// dispatches incoming frames through. It holds no connection state of
// its own.
type Router struct {
	handlers map[route]Handler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[route]Handler)}
}

// Handle registers h for (ns, event), replacing any prior registration.
func (r *Router) Handle(ns Namespace, event string, h Handler) {
	r.handlers[route{namespace: ns, event: event}] = h
}

// Dispatch runs the handler registered for (ns, event) against raw,
// returning ErrUnknownEvent if nothing is registered.
func (r *Router) Dispatch(ctx context.Context, ns Namespace, event string, raw json.RawMessage) (any, error) {
	h, ok := r.handlers[route{namespace: ns, event: event}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownEvent, ns, event)
	}
	return h(ctx, raw)
}
