package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestRouterDispatchesToRegisteredHandler(t *testing.T) {
	r := NewRouter()
	var gotRaw json.RawMessage
	r.Handle(Robotics, EventStopRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		gotRaw = raw
		return "stopped", nil
	})

	result, err := r.Dispatch(context.Background(), Robotics, EventStopRobotics, json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("dispatch err: %v", err)
	}
	if result != "stopped" {
		t.Fatalf("unexpected result %v", result)
	}
	if string(gotRaw) != `{"a":1}` {
		t.Fatalf("handler did not see raw payload, got %s", gotRaw)
	}
}

func TestRouterDispatchUnknownEvent(t *testing.T) {
	r := NewRouter()
	_, err := r.Dispatch(context.Background(), Robotics, "no_such_event", nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestRouterNamespacesAreIndependent(t *testing.T) {
	r := NewRouter()
	r.Handle(DPUEvolver, EventGetConfig, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return "dpu", nil
	})
	// Same event name, different namespace: unregistered here.
	_, err := r.Dispatch(context.Background(), Robotics, EventGetConfig, nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for unregistered namespace, got %v", err)
	}

	got, err := r.Dispatch(context.Background(), DPUEvolver, EventGetConfig, nil)
	if err != nil || got != "dpu" {
		t.Fatalf("unexpected dispatch result %v, err %v", got, err)
	}
}

func TestRouterHandleReplacesPriorRegistration(t *testing.T) {
	r := NewRouter()
	r.Handle(Robotics, EventPauseRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return "first", nil
	})
	r.Handle(Robotics, EventPauseRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return "second", nil
	})
	got, err := r.Dispatch(context.Background(), Robotics, EventPauseRobotics, nil)
	if err != nil || got != "second" {
		t.Fatalf("expected second handler to win, got %v, err %v", got, err)
	}
}
