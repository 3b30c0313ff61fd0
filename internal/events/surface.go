package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"evolverd/internal/broadcast"
	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/fluidics"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
)

// ArmConnector is the subset of armdriver.Client a reconnect_robotics
// handler needs; narrowed so tests can substitute a fake without pulling
// in a live Client.
type ArmConnector interface {
	Connect(ctx context.Context) error
}

// Paths names the files a Surface rewrites in full whenever a handler
// mutates config or calibration state, mirroring the original server's
// overwrite-the-whole-file persistence.
type Paths struct {
	Config       string
	Calibrations string
	DeviceName   string
}

// Surface wires every client event to the package that actually owns its
// effect, and registers the whole set on a Router. It holds no connection
// state itself — that belongs to whatever transport adapter marshals
// frames to and from it.
type Surface struct {
	router      *Router
	broadcaster *Broadcaster

	paths Paths

	store        *config.Store
	calibrations *config.CalibrationStore
	broadcastEng *broadcast.Engine
	queue        *commandqueue.Queue
	fluidicsEng  *fluidics.Engine
	arm          ArmConnector
	statusActor  *status.Actor
	log          logging.Logger
}

// NewSurface builds a Surface and registers every ingress handler on a
// fresh Router.
func NewSurface(paths Paths, store *config.Store, calibrations *config.CalibrationStore, broadcastEng *broadcast.Engine, queue *commandqueue.Queue, fluidicsEng *fluidics.Engine, arm ArmConnector, statusActor *status.Actor, log logging.Logger) *Surface {
	s := &Surface{
		router:       NewRouter(),
		broadcaster:  NewBroadcaster(),
		paths:        paths,
		store:        store,
		calibrations: calibrations,
		broadcastEng: broadcastEng,
		queue:        queue,
		fluidicsEng:  fluidicsEng,
		arm:          arm,
		statusActor:  statusActor,
		log:          log,
	}
	s.registerDPUEvolver()
	s.registerRobotics()
	return s
}

// Router returns the Surface's routing table for a transport adapter to
// dispatch through.
func (s *Surface) Router() *Router { return s.router }

// Broadcaster returns the Surface's egress fan-out for a transport
// adapter to subscribe to.
func (s *Surface) Broadcaster() *Broadcaster { return s.broadcaster }

// PublishConfigReloaded emits config_reloaded once a watched conf.yml edit
// has been applied to the store, for a config.Watcher's onChange callback
// to call.
func (s *Surface) PublishConfigReloaded(cfg config.Config) {
	s.broadcaster.Publish(Envelope{Namespace: DPUEvolver, Event: EventConfigReloaded, Payload: ConfigReloadedPayload{Config: cfg}})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("events: decode payload: %w", err)
	}
	return v, nil
}

func (s *Surface) registerDPUEvolver() {
	r, ns := s.router, DPUEvolver

	r.Handle(ns, EventCommand, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[CommandRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateExperimentParameter(req.Param, req.Value); err != nil {
			return nil, err
		}
		cfg := s.store.Snapshot()
		cmd := commandqueue.Command{Param: req.Param, Value: req.Value, Kind: cfg.Serial.Immediate}
		if req.Immediate {
			if err := s.broadcastEng.ExecuteImmediate(ctx, cmd); err != nil {
				return nil, err
			}
		} else {
			s.queue.PushImmediate(cmd)
		}
		s.persistConfig()
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventConfig, Payload: cfg})
		return nil, nil
	})

	r.Handle(ns, EventGetConfig, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return s.store.Snapshot(), nil
	})

	r.Handle(ns, EventGetCalibrationNames, func(ctx context.Context, raw json.RawMessage) (any, error) {
		names := s.calibrations.Names()
		entries := make([]CalibrationNameEntry, 0, len(names))
		for _, name := range names {
			cal, ok := s.calibrations.Get(name)
			if !ok {
				continue
			}
			entries = append(entries, CalibrationNameEntry{Name: cal.Name, Type: cal.Type})
		}
		return entries, nil
	})

	r.Handle(ns, EventGetFitNames, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[NamedCalibrationRequest](raw)
		if err != nil {
			return nil, err
		}
		fitNames, err := s.calibrations.FitNames(req.Name)
		if err != nil {
			return nil, err
		}
		entries := make([]FitNameEntry, 0, len(fitNames))
		for _, fn := range fitNames {
			entries = append(entries, FitNameEntry{Name: req.Name, FitName: fn})
		}
		return entries, nil
	})

	r.Handle(ns, EventGetCalibration, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[NamedCalibrationRequest](raw)
		if err != nil {
			return nil, err
		}
		cal, ok := s.calibrations.Get(req.Name)
		if !ok {
			return nil, fmt.Errorf("%w: calibration %q", config.ErrUnknownCalibration, req.Name)
		}
		return CalibrationPayload{Calibration: cal}, nil
	})

	r.Handle(ns, EventSetRawCalibration, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[SetRawCalibrationRequest](raw)
		if err != nil {
			return nil, err
		}
		s.calibrations.SetRawCalibration(req.Name, req.Type, req.Raw)
		s.persistCalibrations()
		cal, _ := s.calibrations.Get(req.Name)
		ack := RawCalibrationAck{Calibration: cal}
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventCalibrationRawCallback, Payload: ack})
		return ack, nil
	})

	r.Handle(ns, EventSetFitCalibration, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[SetFitCalibrationRequest](raw)
		if err != nil {
			return nil, err
		}
		fit := config.Fit{Name: req.Fit.Name, Coefficients: req.Fit.Coefficients}
		if err := s.calibrations.SetFitCalibration(req.Name, fit); err != nil {
			return nil, err
		}
		s.persistCalibrations()
		cal, _ := s.calibrations.Get(req.Name)
		return CalibrationPayload{Calibration: cal}, nil
	})

	r.Handle(ns, EventSetActiveCal, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[SetActiveCalRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := s.calibrations.SetActiveFit(req.Name, req.FitName); err != nil {
			return nil, err
		}
		s.persistCalibrations()
		return nil, nil
	})

	r.Handle(ns, EventGetActiveCal, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[GetActiveCalRequest](raw)
		if err != nil {
			return nil, err
		}
		active := s.calibrations.ActiveFitForType(req.Type)
		payload := ActiveCalibrationsPayload{Type: req.Type, Active: active}
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventActiveCalibrations, Payload: payload})
		return payload, nil
	})

	r.Handle(ns, EventGetDeviceName, func(ctx context.Context, raw json.RawMessage) (any, error) {
		payload := BroadcastNamePayload{Name: s.store.GetDeviceName()}
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventBroadcastName, Payload: payload})
		return payload, nil
	})

	r.Handle(ns, EventSetDeviceName, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[SetDeviceNameRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetDeviceName(s.paths.DeviceName, req.Name); err != nil {
			return nil, err
		}
		payload := BroadcastNamePayload{Name: req.Name}
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventBroadcastName, Payload: payload})
		return payload, nil
	})
}

func (s *Surface) registerRobotics() {
	r, ns := s.router, Robotics

	r.Handle(ns, EventFillTubingRoutine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[FillTubingRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.launchRoutine(ctx, "fill_tubing", func(ctx context.Context) error {
			return s.fluidicsEng.FillTubing(ctx, req.Steps)
		}), nil
	})

	r.Handle(ns, EventPrimeInfluxRoutine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return s.launchRoutine(ctx, "prime_influx", s.fluidicsEng.PrimeInflux), nil
	})

	r.Handle(ns, EventPrimeEffluxRoutine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return s.launchRoutine(ctx, "prime_efflux", s.fluidicsEng.PrimeEfflux), nil
	})

	r.Handle(ns, EventInfluxRoutine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[InfluxRoutineRequest](raw)
		if err != nil {
			return nil, err
		}
		mode, err := parseRoutineMode(req.Mode)
		if err != nil {
			return nil, err
		}
		return s.launchRoutine(ctx, req.Mode, func(ctx context.Context) error {
			return s.fluidicsEng.RunSnake(ctx, mode, req.ActiveQuads, req.Plan, req.Uniform, req.Wash, req.Primed)
		}), nil
	})

	r.Handle(ns, EventRequestRoboticsState, func(ctx context.Context, raw json.RawMessage) (any, error) {
		payload := s.roboticsStatusPayload()
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventActiveRoboticsStatus, Payload: payload})
		return payload, nil
	})

	r.Handle(ns, EventRequestPumpConf, func(ctx context.Context, raw json.RawMessage) (any, error) {
		payload := PumpConfPayload{Pumps: s.store.Snapshot().Robotics.Pumps}
		s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventActivePumpConf, Payload: payload})
		return payload, nil
	})

	r.Handle(ns, EventOverrideRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		st := s.statusActor.Override()
		s.publishRoboticsStatus(ns, st)
		return nil, nil
	})

	r.Handle(ns, EventStopRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		if err := s.fluidicsEng.StopRobotics(ctx); err != nil {
			return nil, err
		}
		s.publishRoboticsStatus(ns, s.statusActor.Snapshot())
		return nil, nil
	})

	r.Handle(ns, EventReconnectRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		err := s.arm.Connect(ctx)
		s.statusActor.SetArmConnected(err == nil)
		s.publishRoboticsStatus(ns, s.statusActor.Snapshot())
		return nil, err
	})

	r.Handle(ns, EventPauseRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		st := s.statusActor.SetMode(status.Pause)
		s.publishRoboticsStatus(ns, st)
		return nil, nil
	})

	r.Handle(ns, EventResumeRobotics, func(ctx context.Context, raw json.RawMessage) (any, error) {
		st := s.statusActor.SetMode(status.Idle)
		s.publishRoboticsStatus(ns, st)
		return nil, nil
	})
}

// launchRoutine starts run on a background goroutine — a snake or priming
// routine can take many minutes, far longer than any caller should block
// dispatching an event — and acknowledges only that it started, tagged
// with a correlation id. Completion, success or failure, is reported
// asynchronously as a RoutineResult on the Broadcaster, the result record
// shape every routine event promises its caller.
func (s *Surface) launchRoutine(ctx context.Context, routine string, run func(ctx context.Context) error) RoutineAck {
	routineID := uuid.New().String()
	go func() {
		runCtx := context.WithoutCancel(ctx)
		started := time.Now()
		err := run(runCtx)
		result := RoutineResult{
			Done:           true,
			Routine:        routine,
			RoutineID:      routineID,
			RoboticsStatus: s.roboticsStatusPayload(),
			ElapsedTime:    time.Since(started).Seconds(),
		}
		switch {
		case errors.Is(err, fluidics.ErrAlreadyPrimed):
			result.Done = false
			result.Reason = "already primed"
		case err != nil:
			wrapped := &HelperEventError{RoutineID: routineID, Routine: routine, Err: err}
			s.log.ErrorCtx(runCtx, "routine failed", "error", wrapped)
			result.Done = "error"
			result.Message = wrapped.Error()
		}
		s.broadcaster.Publish(Envelope{Namespace: Robotics, Event: EventRoutineResult, Payload: result})
	}()
	return RoutineAck{Started: true, RoutineID: routineID}
}

func parseRoutineMode(raw string) (status.Mode, error) {
	switch raw {
	case "influx":
		return status.Influx, nil
	case "dilution":
		return status.Dilution, nil
	case "vial_setup":
		return status.VialSetup, nil
	default:
		return 0, fmt.Errorf("events: unknown routine mode %q", raw)
	}
}

func toRoboticsStatusPayload(st status.RoboticsStatus) RoboticsStatusPayload {
	return RoboticsStatusPayload{
		Mode:        st.Mode.String(),
		ActiveQuad:  st.ActiveQuad,
		VialWindow:  st.VialWindow,
		ActivePumps: st.ActivePumps,
		Arm: ArmStatusWire{
			State:     st.Arm.State,
			ErrorCode: st.Arm.ErrorCode,
			WarnCode:  st.Arm.WarnCode,
			Connected: st.Arm.Connected,
		},
		Octoprint:    st.Octoprint,
		PrimedInflux: st.PrimeStatus.Influx,
		PrimedEfflux: st.PrimeStatus.Efflux,
	}
}

func (s *Surface) roboticsStatusPayload() RoboticsStatusPayload {
	return toRoboticsStatusPayload(s.statusActor.Snapshot())
}

func (s *Surface) publishRoboticsStatus(ns Namespace, st status.RoboticsStatus) {
	s.broadcaster.Publish(Envelope{Namespace: ns, Event: EventActiveRoboticsStatus, Payload: toRoboticsStatusPayload(st)})
}

func (s *Surface) persistConfig() {
	if s.paths.Config == "" {
		return
	}
	if err := s.store.Save(s.paths.Config); err != nil {
		s.log.ErrorCtx(context.Background(), "save config", "error", err)
	}
}

func (s *Surface) persistCalibrations() {
	if s.paths.Calibrations == "" {
		return
	}
	if err := s.calibrations.Save(s.paths.Calibrations); err != nil {
		s.log.ErrorCtx(context.Background(), "save calibrations", "error", err)
	}
}
