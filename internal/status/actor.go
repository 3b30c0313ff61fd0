package status

import (
	"context"
	"sync"
)

// request is the single message shape the actor goroutine consumes: apply
// mutates the record in place (no-op for a pure read) and reply, if
// non-nil, receives the post-mutation snapshot.
type request struct {
	apply func(*RoboticsStatus)
	reply chan RoboticsStatus
}

// Actor is the single writer of RoboticsStatus. All mutation happens on
// its own goroutine; callers never touch the record directly.
type Actor struct {
	requests chan request

	mu          sync.Mutex
	subscribers []chan RoboticsStatus
}

// NewActor starts the actor goroutine and returns a handle to it. ctx
// cancellation stops the goroutine; pending requests after that point
// block forever, so callers should stop issuing them once ctx is done.
func NewActor(ctx context.Context) *Actor {
	a := &Actor{requests: make(chan request)}
	go a.run(ctx, RoboticsStatus{Octoprint: map[string]bool{}})
	return a
}

func (a *Actor) run(ctx context.Context, state RoboticsStatus) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			if req.apply != nil {
				req.apply(&state)
			}
			snapshot := state.Clone()
			if req.reply != nil {
				req.reply <- snapshot
			}
			a.publish(snapshot)
		}
	}
}

func (a *Actor) publish(snapshot RoboticsStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Replace the undrained snapshot with this newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// do sends a mutation to the actor and returns the resulting snapshot.
func (a *Actor) do(apply func(*RoboticsStatus)) RoboticsStatus {
	reply := make(chan RoboticsStatus, 1)
	a.requests <- request{apply: apply, reply: reply}
	return <-reply
}

// Snapshot returns the current status record.
func (a *Actor) Snapshot() RoboticsStatus {
	return a.do(nil)
}

// SetMode sets the routine mode unconditionally. Callers that must honor
// the "EmergencyStop is terminal" invariant should check
// EmergencyStopActive first, or use Override to clear it deliberately.
func (a *Actor) SetMode(m Mode) RoboticsStatus {
	return a.do(func(s *RoboticsStatus) { s.Mode = m })
}

// EmergencyStop transitions to EmergencyStop regardless of current mode;
// this is the one transition always allowed.
func (a *Actor) EmergencyStop(ctx context.Context) error {
	a.do(func(s *RoboticsStatus) { s.Mode = EmergencyStop })
	return nil
}

// Override clears EmergencyStop and any other mode back to Idle, per an
// operator's explicit override_robotics_status request. It does not
// forgive the arm's own fault state; a caller recovering a genuinely
// faulted arm must also clear Arm.ErrorCode out of band.
func (a *Actor) Override() RoboticsStatus {
	return a.do(func(s *RoboticsStatus) { s.Mode = Idle })
}

// EmergencyStopActive reports whether the rig is currently latched in
// EmergencyStop, satisfying armdriver.ModeChecker.
func (a *Actor) EmergencyStopActive() bool {
	return a.Snapshot().Mode == EmergencyStop
}

// SetArmState mirrors the arm driver's state/error/warn codes. It never
// touches Mode: an arm callback observing a return to a healthy state
// must not silently clear EmergencyStop, per the E-stop-terminal
// invariant.
func (a *Actor) SetArmState(state, errorCode, warnCode int) {
	a.do(func(s *RoboticsStatus) {
		s.Arm.State = state
		s.Arm.ErrorCode = errorCode
		s.Arm.WarnCode = warnCode
	})
}

// SetArmConnected mirrors the arm driver's connect/disconnect callback.
func (a *Actor) SetArmConnected(connected bool) {
	a.do(func(s *RoboticsStatus) { s.Arm.Connected = connected })
}

// SetOctoState records one print server's reachability, keyed by its
// configured name.
func (a *Actor) SetOctoState(name string, connected bool) RoboticsStatus {
	return a.do(func(s *RoboticsStatus) {
		if s.Octoprint == nil {
			s.Octoprint = map[string]bool{}
		}
		s.Octoprint[name] = connected
	})
}

// SetPrimeInflux records that prime_influx has completed.
func (a *Actor) SetPrimeInflux(done bool) {
	a.do(func(s *RoboticsStatus) { s.PrimeStatus.Influx = done })
}

// SetPrimeEfflux records that prime_efflux has completed.
func (a *Actor) SetPrimeEfflux(done bool) {
	a.do(func(s *RoboticsStatus) { s.PrimeStatus.Efflux = done })
}

// SetActiveQuad records which quad the current routine is operating on.
func (a *Actor) SetActiveQuad(quad string) {
	a.do(func(s *RoboticsStatus) { s.ActiveQuad = quad })
}

// SetWindow records the current vial window and its parallel active-pump
// ordering.
func (a *Actor) SetWindow(vials []int, pumps []string) {
	a.do(func(s *RoboticsStatus) {
		s.VialWindow = append([]int(nil), vials...)
		s.ActivePumps = append([]string(nil), pumps...)
	})
}

// Subscribe returns a channel that receives every snapshot taken after a
// mutation. The channel is buffered by 1 and drops snapshots a slow
// subscriber hasn't drained yet, since only the latest status matters to
// a status-push consumer (C10).
func (a *Actor) Subscribe() <-chan RoboticsStatus {
	ch := make(chan RoboticsStatus, 1)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}
