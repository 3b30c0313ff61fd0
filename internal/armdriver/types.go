// Package armdriver wraps the six-axis arm's vendor SDK behind a small
// interface, plus a TCP-framed implementation of that interface for the
// vendor's control-box protocol. Callback-driven state from the arm
// (error/warn code, state, connection) mirrors into the status actor and
// can trigger an emergency stop; the driver itself holds no routine logic.
package armdriver

// Position is a target in arm-frame millimeters.
type Position struct {
	X, Y, Z float64
}

// MoveParams carries the orientation and motion profile for a move, sourced
// from config.RoboticsConfig's default_roll/pitch/yaw/speed/acc.
type MoveParams struct {
	Roll, Pitch, Yaw float64
	Speed, Acc       float64
	Wait             bool
}

// State is the arm's last-known status, as mirrored from vendor callbacks.
type State struct {
	Code      int // vendor state code; 4 means a fault state requiring reset
	ErrorCode int
	WarnCode  int
	Connected bool
}

// Faulted reports whether this state should block further motion.
func (s State) Faulted() bool {
	return s.ErrorCode != 0 || s.Code == 4
}
