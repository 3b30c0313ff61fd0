// Package broadcast drives the periodic pre/settle/data/post cycle that
// pulls commands off the queue and sends them over the serial link, and
// the inline interlock that lets an immediate command preempt it.
package broadcast

import (
	"context"
	"sync"
	"time"

	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/rigclock"
	"evolverd/internal/telemetry/logging"
	"evolverd/internal/telemetry/metrics"
	"evolverd/internal/telemetry/tracing"
)

// Mode is the broadcast engine's own run state, distinct from the
// robotics routine mode in RoboticsStatus.
type Mode int

const (
	Idle Mode = iota
	RunningBroadcast
	RunningImmediate
)

func (m Mode) String() string {
	switch m {
	case RunningBroadcast:
		return "running_broadcast"
	case RunningImmediate:
		return "running_immediate"
	default:
		return "idle"
	}
}

// Sender is the subset of *serial.Framer the broadcast engine needs,
// narrowed so tests can substitute a fake.
type Sender interface {
	Send(param string, values []string, kind config.Sentinel, fieldsOut, fieldsIn int) ([]string, bool, error)
}

// Engine owns the broadcast/immediate interlock and the periodic cycle.
type Engine struct {
	sender Sender
	queue  *commandqueue.Queue
	store  *config.Store
	clock  rigclock.Clock
	log    logging.Logger
	tracer tracing.Tracer

	cyclesTotal      metrics.Counter
	phaseErrorsTotal metrics.Counter
	cycleDuration    metrics.Histogram

	onMessage func(Message)

	mu            sync.Mutex
	mode          Mode
	lastBroadcast time.Time
}

// New wires an Engine from its collaborators. onMessage, if non-nil, is
// invoked once per phase with that phase's Message.
func New(sender Sender, queue *commandqueue.Queue, store *config.Store, provider metrics.Provider, tracer tracing.Tracer, log logging.Logger, onMessage func(Message)) *Engine {
	return &Engine{
		sender:    sender,
		queue:     queue,
		store:     store,
		clock:     rigclock.Real(),
		log:       log,
		tracer:    tracer,
		onMessage: onMessage,
		cyclesTotal: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "evolverd", Subsystem: "broadcast", Name: "cycles_total", Help: "Broadcast cycles completed.",
		}}),
		phaseErrorsTotal: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "evolverd", Subsystem: "broadcast", Name: "phase_errors_total", Help: "Serial errors encountered during a broadcast phase.",
		}}),
		cycleDuration: provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "evolverd", Subsystem: "broadcast", Name: "cycle_duration_seconds", Help: "Wall-clock duration of one full pre/settle/data/post cycle.",
		}}),
	}
}

// WithClock overrides the Engine's Clock, for deterministic tests.
func (e *Engine) WithClock(c rigclock.Clock) *Engine {
	e.clock = c
	return e
}

// ModeNow returns the engine's current run mode.
func (e *Engine) ModeNow() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// RunCycle runs one pre/settle/data/post iteration if the engine is
// currently Idle and broadcasting is enabled in configuration. Cycles
// never overlap: a call while a cycle (or an inline immediate) is
// already in flight is a silent no-op, matching the single-shot
// broadcast-cycle guarantee.
func (e *Engine) RunCycle(ctx context.Context, settle time.Duration) error {
	e.mu.Lock()
	if e.mode != Idle {
		e.mu.Unlock()
		return nil
	}
	e.mode = RunningBroadcast
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.mode = Idle
		e.lastBroadcast = e.clock.Now()
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.StartSpan(ctx, "broadcast.cycle")
	defer span.End()
	started := e.clock.Now()
	defer func() { e.cycleDuration.Observe(e.clock.Now().Sub(started).Seconds()) }()

	cfg := e.store.Snapshot()
	if !cfg.BroadcastEnabled {
		return nil
	}

	if _, err := e.runPhase(ctx, commandqueue.PreReading, cfg); err != nil {
		e.log.WarnCtx(ctx, "broadcast: pre-reading phase failed", "error", err)
	}
	e.emitDummy(commandqueue.PreReading, cfg)

	e.clock.Sleep(settle)

	data, err := e.runPhase(ctx, commandqueue.Data, cfg)
	if err != nil {
		e.log.WarnCtx(ctx, "broadcast: data phase failed", "error", err)
	}
	e.emit(Message{
		Data:      data,
		Config:    cfg.Robotics.QuadNames(),
		Timestamp: e.clock.Now(),
		Tag:       commandqueue.Data.String(),
		Dummy:     false,
	})

	if _, err := e.runPhase(ctx, commandqueue.PostReading, cfg); err != nil {
		e.log.WarnCtx(ctx, "broadcast: post-reading phase failed", "error", err)
	}
	e.emitDummy(commandqueue.PostReading, cfg)

	e.cyclesTotal.Inc(1)
	return nil
}

func (e *Engine) emitDummy(tag commandqueue.PhaseTag, cfg config.Config) {
	e.emit(Message{
		Timestamp: e.clock.Now(),
		Tag:       tag.String(),
		Dummy:     true,
	})
}

func (e *Engine) emit(msg Message) {
	if e.onMessage != nil {
		e.onMessage(msg)
	}
}

// runPhase drains any immediates already buffered, appends this phase's
// recurring commands, and sends every one of them through the serial
// framer in order. Each phase starts from a freshly collected result
// map; nothing is accumulated across calls, so no phase's data ever
// grows unbounded across cycles.
func (e *Engine) runPhase(ctx context.Context, tag commandqueue.PhaseTag, cfg config.Config) (map[string][]string, error) {
	e.mu.Lock()
	if e.mode == RunningImmediate {
		e.mu.Unlock()
		return nil, ErrImmediateInFlight
	}
	e.mu.Unlock()

	ctx, span := e.tracer.StartSpan(ctx, "broadcast.phase")
	defer span.End()

	pending := e.queue.PopAll()
	e.queue.DrainRecurring(tag, cfg)
	recurring := e.queue.PopAll()
	toRun := append(pending, recurring...)

	results := make(map[string][]string, len(toRun))
	for _, cmd := range toRun {
		descriptor, ok := findParam(cfg, cmd.Param)
		fieldsOut, fieldsIn := 0, 0
		if ok {
			fieldsOut, fieldsIn = descriptor.FieldsOut, descriptor.FieldsIn
		}
		payload, isData, err := e.sender.Send(cmd.Param, cmd.Value, cmd.Kind, fieldsOut, fieldsIn)
		if err != nil {
			e.phaseErrorsTotal.Inc(1)
			e.log.WarnCtx(ctx, "broadcast: serial round-trip failed", "param", cmd.Param, "error", err)
			return results, err
		}
		if isData {
			results[cmd.Param] = payload
		}
	}
	return results, nil
}

func findParam(cfg config.Config, name string) (config.ExperimentParameter, bool) {
	for _, p := range cfg.ExperimentalParams {
		if p.Name == name {
			return p, true
		}
	}
	for _, params := range cfg.BroadcastTags {
		for _, p := range params {
			if p.Name == name {
				return p, true
			}
		}
	}
	return config.ExperimentParameter{}, false
}

// ExecuteImmediate runs cmd against the serial port right away unless a
// broadcast cycle is already running, in which case it is simply
// buffered and sent at the start of the next broadcast phase that runs.
func (e *Engine) ExecuteImmediate(ctx context.Context, cmd commandqueue.Command) error {
	e.mu.Lock()
	if e.mode == RunningBroadcast {
		e.mu.Unlock()
		e.queue.PushImmediate(cmd)
		return nil
	}
	e.mode = RunningImmediate
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.mode = Idle
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.StartSpan(ctx, "broadcast.immediate")
	defer span.End()

	cfg := e.store.Snapshot()
	descriptor, ok := findParam(cfg, cmd.Param)
	fieldsOut, fieldsIn := 0, 0
	if ok {
		fieldsOut, fieldsIn = descriptor.FieldsOut, descriptor.FieldsIn
	}
	_, _, err := e.sender.Send(cmd.Param, cmd.Value, cmd.Kind, fieldsOut, fieldsIn)
	if err != nil {
		e.phaseErrorsTotal.Inc(1)
		e.log.WarnCtx(ctx, "broadcast: immediate command failed", "param", cmd.Param, "error", err)
	}
	return err
}
