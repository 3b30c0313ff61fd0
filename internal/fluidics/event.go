package fluidics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"evolverd/internal/pumpclient"
	"evolverd/internal/rigclock"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
)

// ErrEmergencyStop is returned by checkPause (and propagated by anything
// waiting on it) once the rig has latched into EmergencyStop.
var ErrEmergencyStop = errors.New("fluidics: emergency stop")

// ErrAlreadyPrimed is returned by PrimeInflux when prime_status.influx is
// already set, so a caller can tell a genuine no-op skip apart from a
// routine that actually ran.
var ErrAlreadyPrimed = errors.New("fluidics: prime_influx already primed")

// Board is the print-server surface a fluidic event drives. pumpclient.Client
// satisfies it directly.
type Board interface {
	PostGCode(ctx context.Context, path string, maxAttempts int) error
	Status(ctx context.Context) (pumpclient.StatusResponse, error)
}

// ModeSource reports the rig's current mode, satisfied by status.Actor.
type ModeSource interface {
	Snapshot() status.RoboticsStatus
}

// FluidicEvent is one atomic aspirate-then-dispense pair across every
// print server, optionally overlapped with one arm move.
type FluidicEvent struct {
	Boards             map[string]Board
	AspiratePaths      map[string]string
	DispensePaths      map[string]string
	CheckStatusTimeout time.Duration
	PostGCodeAttempts  int
	Tag                string
}

func checkPause(src ModeSource, clock rigclock.Clock) error {
	for {
		m := src.Snapshot().Mode
		if m == status.EmergencyStop {
			return ErrEmergencyStop
		}
		if m != status.Pause {
			return nil
		}
		clock.Sleep(100 * time.Millisecond)
	}
}

// waitUntilDone polls each board's status once a second until its path's
// basename is reported done, giving up once timeout elapses.
func waitUntilDone(ctx context.Context, boards map[string]Board, paths map[string]string, timeout time.Duration, clock rigclock.Clock) error {
	pending := make(map[string]string, len(paths))
	for key, path := range paths {
		pending[key] = path
	}

	maxAttempts := int(timeout / time.Second)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		for key, path := range pending {
			board, ok := boards[key]
			if !ok {
				delete(pending, key)
				continue
			}
			st, err := board.Status(ctx)
			if err != nil {
				continue
			}
			if st.IsDone(baseName(path)) {
				delete(pending, key)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if attempt < maxAttempts-1 {
			clock.Sleep(time.Second)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("fluidics: check_status timed out waiting on %d board(s)", len(pending))
	}
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// runPhase uploads path to every board in parallel, optionally running
// armFn alongside, then waits for every upload to report done.
func runPhase(ctx context.Context, boards map[string]Board, paths map[string]string, attempts int, timeout time.Duration, clock rigclock.Clock, armFn func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for key, path := range paths {
		key, path := key, path
		board, ok := boards[key]
		if !ok {
			continue
		}
		g.Go(func() error {
			return board.PostGCode(gctx, path, attempts)
		})
	}
	if armFn != nil {
		g.Go(func() error { return armFn(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return waitUntilDone(ctx, boards, paths, timeout, clock)
}

// Run executes the two-phase aspirate/dispense event. armFn, if non-nil,
// runs concurrently with the aspirate phase's uploads and must complete
// before dispense begins — it already does, since it is inside the same
// errgroup the aspirate wait blocks on.
func Run(ctx context.Context, ev FluidicEvent, modeSource ModeSource, routineMode status.Mode, setMode func(status.Mode), clock rigclock.Clock, log logging.Logger, armFn func(ctx context.Context) error) error {
	if err := checkPause(modeSource, clock); err != nil {
		return err
	}
	setMode(routineMode)

	log.InfoCtx(ctx, "fluidic event aspirate phase", "tag", ev.Tag)
	if err := runPhase(ctx, ev.Boards, ev.AspiratePaths, ev.PostGCodeAttempts, ev.CheckStatusTimeout, clock, armFn); err != nil {
		return fmt.Errorf("fluidics: aspirate phase: %w", err)
	}

	if err := checkPause(modeSource, clock); err != nil {
		return err
	}
	setMode(routineMode)

	log.InfoCtx(ctx, "fluidic event dispense phase", "tag", ev.Tag)
	if err := runPhase(ctx, ev.Boards, ev.DispensePaths, ev.PostGCodeAttempts, ev.CheckStatusTimeout, clock, nil); err != nil {
		return fmt.Errorf("fluidics: dispense phase: %w", err)
	}
	return nil
}
