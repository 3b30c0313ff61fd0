package fluidics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"evolverd/internal/armdriver"
	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/gcode"
	"evolverd/internal/rigclock"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
)

// VialSteps is the per-vial requested step count for one pump within one
// quad, keyed by vial index.
type VialSteps map[int]int

// PumpPlan is the full per-pump dosing plan for a snake routine: pump id
// -> quad name -> vial index -> requested steps, mirroring the
// `syringe_pump_commands[pump][quad]['vial_N']` lookup the routine walks
// one window at a time.
type PumpPlan map[string]map[string]VialSteps

func (p PumpPlan) stepsFor(pump, quad string, vial int) int {
	byQuad, ok := p[pump]
	if !ok {
		return 0
	}
	byVial, ok := byQuad[quad]
	if !ok {
		return 0
	}
	return byVial[vial]
}

// Engine drives the snake routine, the fixed fill/prime routines, and
// emergency stop over one rig's boards, arm, and status actor.
type Engine struct {
	cfg    config.RoboticsConfig
	pumps  map[string]config.PumpConfig
	boards map[string]Board

	arm    ArmMover
	status *status.Actor
	queue  *commandqueue.Queue

	immediate config.Sentinel
	builder   *gcode.Builder
	clock     rigclock.Clock
	log       logging.Logger
}

// NewEngine wires a routine Engine from the robotics configuration section,
// one Board per print server keyed by its configured index, the arm mover,
// the shared status actor, and the command queue the efflux retransmit is
// pushed through.
func NewEngine(cfg config.Config, boards map[string]Board, arm ArmMover, statusActor *status.Actor, queue *commandqueue.Queue, clock rigclock.Clock, log logging.Logger) *Engine {
	return &Engine{
		cfg:       cfg.Robotics,
		pumps:     cfg.Robotics.Pumps,
		boards:    boards,
		arm:       arm,
		status:    statusActor,
		queue:     queue,
		immediate: cfg.Serial.Immediate,
		builder:   gcode.NewBuilder(cfg.Robotics.Pumps, cfg.Robotics.PrintServers),
		clock:     clock,
		log:       log,
	}
}

func boardKey(index int) string { return strconv.Itoa(index) }

// writePrograms writes bodies to disk and returns the path each board
// (keyed the same way e.boards is) should upload.
func (e *Engine) writePrograms(program gcode.Program, bodies map[int]string) (map[string]string, error) {
	if err := gcode.WriteProgram(e.cfg.PrintServers, program, bodies); err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(bodies))
	for _, s := range e.cfg.PrintServers {
		if _, ok := bodies[s.Index]; !ok {
			continue
		}
		paths[boardKey(s.Index)] = filepath.Join(s.GCodeFolder, string(program)+".gcode")
	}
	return paths, nil
}

// runEvent builds the aspirate/dispense programs for steps, writes them,
// and runs the two-phase fluidic event, optionally overlapping armFn with
// the aspirate phase.
func (e *Engine) runEvent(ctx context.Context, aspirateSteps, dispenseSteps map[string]int, primed bool, mode status.Mode, tag string, armFn func(ctx context.Context) error) error {
	aspiratePaths, err := e.writePrograms(gcode.ProgramAspirate, e.builder.Aspirate(aspirateSteps))
	if err != nil {
		return fmt.Errorf("fluidics: %s: %w", tag, err)
	}
	dispensePaths, err := e.writePrograms(gcode.ProgramDispense, e.builder.Dispense(dispenseSteps, primed))
	if err != nil {
		return fmt.Errorf("fluidics: %s: %w", tag, err)
	}

	ev := FluidicEvent{
		Boards:             e.boards,
		AspiratePaths:      aspiratePaths,
		DispensePaths:      dispensePaths,
		CheckStatusTimeout: e.cfg.CheckStatusTimeout,
		PostGCodeAttempts:  e.cfg.PostGCodeTimeout,
		Tag:                tag,
	}
	setMode := func(m status.Mode) { e.status.SetMode(m) }
	return Run(ctx, ev, e.status, mode, setMode, e.clock, e.log, armFn)
}

func (e *Engine) moveParams() armdriver.MoveParams {
	return armdriver.MoveParams{
		Roll:  e.cfg.DefaultRoll,
		Pitch: e.cfg.DefaultPitch,
		Yaw:   e.cfg.DefaultYaw,
		Speed: e.cfg.DefaultSpeed,
		Acc:   e.cfg.DefaultAcc,
	}
}

// zeroSteps returns a steps map with every pump id present and zeroed, for
// a valve-only wash pulse.
func (e *Engine) zeroSteps() map[string]int {
	out := make(map[string]int, len(e.pumps))
	for id := range e.pumps {
		out[id] = 0
	}
	return out
}

// RunSnake drives the influx/dilution/vial-setup traversal described for
// Mode m (one of Influx, Dilution, VialSetup) over activeQuads, dosing
// according to plan. uniform selects the overlapping-window sliding
// sequence (same fluid type across all active pumps) versus the
// non-overlapping heterogeneous-window sequence. wash, if true, runs an
// all-zero valve pulse and a wash-station round trip before every
// window's real dosing events. primed is forwarded to the G-code
// builder's dispense phase.
func (e *Engine) RunSnake(ctx context.Context, m status.Mode, activeQuads []string, plan PumpPlan, uniform, wash, primed bool) error {
	if !e.status.Snapshot().Mode.CanStartRoutine() {
		return fmt.Errorf("fluidics: cannot start %s: rig is not idle or paused", m)
	}

	for _, quad := range activeQuads {
		cal, ok := e.cfg.Quads[quad]
		if !ok {
			return fmt.Errorf("fluidics: quad %q has no calibration", quad)
		}
		transform := FitStackedTransform(cal)
		e.status.SetActiveQuad(quad)

		var currentCentre Point2D
		haveCurrent := false

		for row := 0; row < RowCount(); row++ {
			vials := RowTraversal(row)
			pumpsForRow := PumpOrder(e.pumpIDsForQuad(quad, plan), row)
			windows := e.windowsForRow(vials, pumpsForRow, uniform)

			for _, w := range windows {
				centre := WindowCentre(w.Vials)
				if !haveCurrent {
					currentCentre = centre
					haveCurrent = true
				}

				if wash {
					if err := e.washRoundTrip(ctx, transform, cal.Wash, currentCentre); err != nil {
						return err
					}
				}

				if err := e.runWindow(ctx, m, quad, w, plan, transform, &currentCentre, primed); err != nil {
					return err
				}
			}
		}

		// quad end: lift above the last window worked, then if this is a
		// dilution routine, retransmit the IPP-efflux command.
		if haveCurrent {
			liftPos := toPosition(transform.Out2D(currentCentre))
			waitParams := e.moveParams()
			waitParams.Wait = true
			if _, err := e.arm.MoveArm(ctx, liftPos, waitParams); err != nil {
				return fmt.Errorf("fluidics: lift at end of quad %q: %w", quad, err)
			}
		}
		if m == status.Dilution {
			e.sendEffluxCommand(cal)
		}
	}

	e.status.SetMode(status.Idle)
	return nil
}

// pumpIDsForQuad returns, in deterministic order, the pump ids plan has an
// entry for under quad.
func (e *Engine) pumpIDsForQuad(quad string, plan PumpPlan) []string {
	var out []string
	for id, byQuad := range plan {
		if _, ok := byQuad[quad]; ok {
			out = append(out, id)
		}
	}
	// Deterministic order matters for window construction; sort by motor
	// channel the same way the G-code builder orders boards.
	sortPumpsByChannel(out, e.pumps)
	return out
}

func sortPumpsByChannel(ids []string, pumps map[string]config.PumpConfig) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && pumps[ids[j-1]].MotorChannel > pumps[ids[j]].MotorChannel; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (e *Engine) windowsForRow(vials []int, pumps []string, uniform bool) []Window {
	if uniform {
		return WindowSequence(vials, pumps)
	}
	return WindowSequenceHeterogeneous(vials, pumps)
}

// runWindow decomposes each active pump's per-window step request into
// full-stroke plus fractional sub-events and issues one fluidic event per
// sub-event, moving the arm only on the first.
func (e *Engine) runWindow(ctx context.Context, m status.Mode, quad string, w Window, plan PumpPlan, transform StackedTransform, currentCentre *Point2D, primed bool) error {
	decomposed := make(map[string][]int, len(w.ActivePumps))
	maxEvents := 0
	for i, pump := range w.ActivePumps {
		vial := w.Vials[i]
		requested := plan.stepsFor(pump, quad, vial)
		events := gcode.DecomposeSteps(requested, e.pumps[pump].MaxSteps)
		decomposed[pump] = events
		if len(events) > maxEvents {
			maxEvents = len(events)
		}
	}
	if maxEvents == 0 {
		maxEvents = 1
	}

	targetCentre := WindowCentre(w.Vials)
	e.status.SetWindow(w.Vials, w.ActivePumps)

	for event := 0; event < maxEvents; event++ {
		steps := make(map[string]int, len(w.ActivePumps))
		for _, pump := range w.ActivePumps {
			events := decomposed[pump]
			if event < len(events) {
				steps[pump] = events[event]
			}
		}

		var armFn func(ctx context.Context) error
		if event == 0 {
			from, to, target := *currentCentre, targetCentre, transform
			armFn = func(ctx context.Context) error {
				// WashDryDelay belongs only on the wash round trip's return
				// leg (washRoundTrip); an ordinary window-to-window move
				// never stalls for it.
				return ArmPath(ctx, e.arm, e.moveParams(), target.Out2D(from), target.Out2D(to), target.In2D(to), 0, e.clock)
			}
		}

		tag := fmt.Sprintf("%s quad=%s vials=%v event=%d", m, quad, w.Vials, event)
		if err := e.runEvent(ctx, steps, steps, primed, m, tag, armFn); err != nil {
			return err
		}
	}

	*currentCentre = targetCentre
	return nil
}

// washRoundTrip runs the wash pre-step: an all-zero valve pulse while the
// arm moves from the current window to the wash station and back.
func (e *Engine) washRoundTrip(ctx context.Context, transform StackedTransform, wash config.StationCalibration, current Point2D) error {
	washOut := ArmPoint{X: wash.XOut, Y: wash.Y, Z: wash.ZOut}
	washIn := ArmPoint{X: wash.XIn, Y: wash.Y, Z: wash.ZIn}

	zero := e.zeroSteps()
	armFn := func(ctx context.Context) error {
		if err := ArmPath(ctx, e.arm, e.moveParams(), transform.Out2D(current), washOut, washIn, 0, e.clock); err != nil {
			return err
		}
		// wash_dry_delay belongs on the return leg: the vial plunges back
		// in only once the needle has had time to drip dry over the wash
		// station.
		return ArmPath(ctx, e.arm, e.moveParams(), washOut, transform.Out2D(current), transform.In2D(current), e.cfg.WashDryDelay, e.clock)
	}
	return e.runEvent(ctx, zero, zero, false, status.Wash, "wash", armFn)
}

// sendEffluxCommand pushes the 48-slot IPP-efflux vector for quad's
// calibrated address twice, 0.5s apart, the second a safety retransmit.
func (e *Engine) sendEffluxCommand(cal config.QuadCalibration) {
	vector := effluxVector(cal)
	for i := 0; i < 2; i++ {
		e.queue.PushImmediate(commandqueue.Command{Param: "pump", Value: vector, Kind: e.immediate, Phase: commandqueue.None})
		if i == 0 {
			e.clock.Sleep(500 * time.Millisecond)
		}
	}
}

const effluxSlots = 48

// setEffluxSlot writes cal's IPP address entry into vector in
// `<freq>|<ipp_num>|<ipp_idx>|<duration>` form, matching the
// microcontroller's fixed-width per-IPP parameter layout. Out-of-range
// addresses are silently skipped rather than panicking, since a
// misconfigured quad shouldn't corrupt every other quad's slot.
func setEffluxSlot(vector []string, cal config.QuadCalibration) {
	idx := cal.Efflux.Idx
	if idx < 0 || idx >= effluxSlots {
		return
	}
	vector[idx] = fmt.Sprintf("1|%d|%d|1", cal.Efflux.Num, cal.Efflux.Idx)
}

// effluxVector builds a fresh 48-slot vector holding only cal's own
// entry, every other slot left empty.
func effluxVector(cal config.QuadCalibration) []string {
	out := make([]string, effluxSlots)
	setEffluxSlot(out, cal)
	return out
}

// FillTubing runs the fixed-step fill-tubing fluidic event: a single
// aspirate+dispense pair at a fixed step count per pump, no arm move.
// Preconditions: mode must be Idle.
func (e *Engine) FillTubing(ctx context.Context, steps int) error {
	if e.status.Snapshot().Mode != status.Idle {
		return errors.New("fluidics: fill_tubing requires mode idle")
	}
	stepsByPump := make(map[string]int, len(e.pumps))
	for id := range e.pumps {
		stepsByPump[id] = steps
	}
	if err := e.runEvent(ctx, stepsByPump, stepsByPump, false, status.FillTubing, "fill_tubing", nil); err != nil {
		return err
	}
	e.status.SetMode(status.Idle)
	return nil
}

// PrimeInflux writes and uploads prime_pumps.gcode to every print server
// and waits for completion. It is idempotent: a second call while
// prime_status.influx is already set returns without driving any pump.
// Preconditions: mode must be Idle.
func (e *Engine) PrimeInflux(ctx context.Context) error {
	snap := e.status.Snapshot()
	if snap.Mode != status.Idle {
		return errors.New("fluidics: prime_influx requires mode idle")
	}
	if snap.PrimeStatus.Influx {
		e.log.InfoCtx(ctx, "prime_influx skipped: already primed")
		return ErrAlreadyPrimed
	}

	bodies := e.builder.PrimePumps()
	paths, err := e.writePrograms(gcode.ProgramPrimePumps, bodies)
	if err != nil {
		return fmt.Errorf("fluidics: prime_influx: %w", err)
	}

	e.status.SetMode(status.Priming)
	if err := runPhase(ctx, e.boards, paths, e.cfg.PostGCodeTimeout, e.cfg.CheckStatusTimeout, e.clock, nil); err != nil {
		return fmt.Errorf("fluidics: prime_influx: %w", err)
	}

	e.status.SetPrimeInflux(true)
	e.status.SetMode(status.Idle)
	return nil
}

// PrimeEfflux assembles the 48-slot efflux command vector across every
// configured quad's IPP address and pushes it once through the command
// queue.
func (e *Engine) PrimeEfflux(ctx context.Context) error {
	vector := make([]string, effluxSlots)
	for _, name := range e.cfg.QuadNames() {
		setEffluxSlot(vector, e.cfg.Quads[name])
	}
	e.queue.PushImmediate(commandqueue.Command{Param: "pump", Value: vector, Kind: e.immediate, Phase: commandqueue.None})
	e.status.SetPrimeEfflux(true)
	return nil
}

// StopRobotics latches EmergencyStop, which blocks every further arm move
// through GuardedClient, and cancels/disconnects every print server so no
// queued job keeps running unattended. Recovery requires an operator's
// override_robotics_status request.
func (e *Engine) StopRobotics(ctx context.Context) error {
	if err := e.status.EmergencyStop(ctx); err != nil {
		return err
	}
	var firstErr error
	for _, board := range e.boards {
		cancelDisconnect, ok := board.(interface {
			Cancel(ctx context.Context) error
			Disconnect(ctx context.Context) error
		})
		if !ok {
			continue
		}
		if err := cancelDisconnect.Cancel(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cancelDisconnect.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
