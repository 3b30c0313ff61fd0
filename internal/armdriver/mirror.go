package armdriver

import (
	"context"
	"sync"

	"evolverd/internal/telemetry/logging"
)

// StatusSink receives the arm's mirrored state, satisfied by the status
// actor (C9).
type StatusSink interface {
	SetArmState(code, errorCode, warnCode int)
	SetArmConnected(connected bool)
}

// EmergencyStopper is the fluidic engine's stop_robotics handler (C8),
// invoked when the arm's own callbacks report a fault.
type EmergencyStopper interface {
	EmergencyStop(ctx context.Context) error
}

// Mirror turns the vendor SDK's three callback events (error/warn change,
// state change, connect change) into StatusSink updates, and triggers an
// emergency stop when error_code != 0 or state == 4. A warning-only event
// (non-zero warn_code, zero error_code) is logged but never changes mode.
type Mirror struct {
	mu      sync.Mutex
	state   State
	sink    StatusSink
	stopper EmergencyStopper
	log     logging.Logger
}

// NewMirror builds a Mirror. stopper may be nil in tests that don't care
// about the emergency-stop side effect, or when the real stopper isn't
// constructed yet and will be supplied later via SetStopper.
func NewMirror(sink StatusSink, stopper EmergencyStopper, log logging.Logger) *Mirror {
	return &Mirror{sink: sink, stopper: stopper, log: log}
}

// SetStopper binds the emergency-stop handler after construction, for
// callers whose EmergencyStopper (the fluidic engine) can only be built
// once the Mirror it reports into already exists.
func (m *Mirror) SetStopper(stopper EmergencyStopper) {
	m.mu.Lock()
	m.stopper = stopper
	m.mu.Unlock()
}

// Snapshot returns the arm's last-mirrored state, for use as a
// GuardedClient state func.
func (m *Mirror) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnErrorWarnChanged handles the vendor's error/warn-changed callback.
func (m *Mirror) OnErrorWarnChanged(ctx context.Context, errorCode, warnCode int) {
	m.mu.Lock()
	m.state.ErrorCode = errorCode
	m.state.WarnCode = warnCode
	snapshot := m.state
	m.mu.Unlock()

	m.sink.SetArmState(snapshot.Code, snapshot.ErrorCode, snapshot.WarnCode)

	switch {
	case errorCode != 0:
		m.log.ErrorCtx(ctx, "arm reported error code", "error_code", errorCode)
		m.triggerEmergencyStop(ctx)
	case warnCode != 0:
		m.log.WarnCtx(ctx, "arm reported warn code", "warn_code", warnCode)
	}
}

// OnStateChanged handles the vendor's state-changed callback.
func (m *Mirror) OnStateChanged(ctx context.Context, code int) {
	m.mu.Lock()
	m.state.Code = code
	snapshot := m.state
	m.mu.Unlock()

	m.sink.SetArmState(snapshot.Code, snapshot.ErrorCode, snapshot.WarnCode)

	if code == 4 {
		m.log.ErrorCtx(ctx, "arm entered fault state")
		m.triggerEmergencyStop(ctx)
	}
}

// OnConnectChanged handles the vendor's connect/disconnect/reconnect
// callbacks.
func (m *Mirror) OnConnectChanged(ctx context.Context, connected bool) {
	m.mu.Lock()
	m.state.Connected = connected
	m.mu.Unlock()

	m.sink.SetArmConnected(connected)
	if !connected {
		m.log.WarnCtx(ctx, "arm disconnected")
	}
}

func (m *Mirror) triggerEmergencyStop(ctx context.Context) {
	m.mu.Lock()
	stopper := m.stopper
	m.mu.Unlock()
	if stopper == nil {
		return
	}
	if err := stopper.EmergencyStop(ctx); err != nil {
		m.log.ErrorCtx(ctx, "emergency stop handler failed", "err", err)
	}
}
