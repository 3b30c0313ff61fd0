package armdriver

import "context"

// Client is the motion primitive the rest of the module depends on. The
// vendor SDK itself is an external collaborator; Client is the seam this
// module owns.
type Client interface {
	Connect(ctx context.Context) error
	// MoveArm moves to pos using params and returns the vendor result
	// code (negative on failure) alongside any transport error.
	MoveArm(ctx context.Context, pos Position, params MoveParams) (int, error)
	Close() error
}

// ModeChecker reports whether the rig is currently in EmergencyStop mode,
// satisfied by the status actor (C9).
type ModeChecker interface {
	EmergencyStopActive() bool
}

// GuardedClient wraps a Client with the busy/faulted and negative-result
// checks spec'd for move_arm, so callers never need to duplicate them.
type GuardedClient struct {
	inner Client
	state func() State
	mode  ModeChecker
}

// NewGuardedClient wraps inner. state reports the arm's last-mirrored
// State; mode may be nil if no separate EmergencyStop mode tracking is
// wired (the arm's own Faulted() check still applies).
func NewGuardedClient(inner Client, state func() State, mode ModeChecker) *GuardedClient {
	return &GuardedClient{inner: inner, state: state, mode: mode}
}

func (g *GuardedClient) Connect(ctx context.Context) error { return g.inner.Connect(ctx) }
func (g *GuardedClient) Close() error                      { return g.inner.Close() }

// MoveArm fails with ArmBusyOrFaulted if the rig is in EmergencyStop mode
// or the arm itself reports a fault state, and wraps a negative vendor
// result code in ArmMoveFailed.
func (g *GuardedClient) MoveArm(ctx context.Context, pos Position, params MoveParams) (int, error) {
	if g.mode != nil && g.mode.EmergencyStopActive() {
		return 0, ArmBusyOrFaulted
	}
	if g.state != nil && g.state().Faulted() {
		return 0, ArmBusyOrFaulted
	}
	code, err := g.inner.MoveArm(ctx, pos, params)
	if err != nil {
		return code, err
	}
	if code < 0 {
		return code, &ArmMoveFailed{Code: code}
	}
	return code, nil
}
