package armdriver

import "fmt"

// ArmBusyOrFaulted is returned by MoveArm when the arm is already in
// EmergencyStop mode or reporting vendor state 4.
var ArmBusyOrFaulted = fmt.Errorf("armdriver: arm busy or faulted")

// ArmMoveFailed wraps a negative vendor result code from set_position.
type ArmMoveFailed struct {
	Code int
}

func (e *ArmMoveFailed) Error() string {
	return fmt.Sprintf("armdriver: move failed, result code %d", e.Code)
}
