package fluidics

import (
	"context"
	"time"

	"evolverd/internal/armdriver"
	"evolverd/internal/rigclock"
)

// ArmMover is the subset of armdriver.Client this package drives.
type ArmMover interface {
	MoveArm(ctx context.Context, pos armdriver.Position, params armdriver.MoveParams) (int, error)
}

func toPosition(p ArmPoint) armdriver.Position {
	return armdriver.Position{X: p.X, Y: p.Y, Z: p.Z}
}

// ArmPath executes the three-segment move between windows: lift above
// the current window, optionally pause for wash-station drying, move
// horizontally above the target window, then submerge into it. Every
// sub-move is synchronous; the first ArmMoveFailed or transport error
// aborts the remaining segments.
func ArmPath(ctx context.Context, mover ArmMover, params armdriver.MoveParams, currentOut, targetOut, targetIn ArmPoint, washDryDelay time.Duration, clock rigclock.Clock) error {
	waitParams := params
	waitParams.Wait = true

	if _, err := mover.MoveArm(ctx, toPosition(currentOut), waitParams); err != nil {
		return err
	}
	if washDryDelay > 0 {
		clock.Sleep(washDryDelay)
	}
	if _, err := mover.MoveArm(ctx, toPosition(targetOut), waitParams); err != nil {
		return err
	}
	if _, err := mover.MoveArm(ctx, toPosition(targetIn), waitParams); err != nil {
		return err
	}
	return nil
}
