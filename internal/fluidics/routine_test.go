package fluidics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/pumpclient"
	"evolverd/internal/rigclock"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
)

func testRoboticsConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Serial: config.SerialConfig{Immediate: config.Sentinel('I')},
		Robotics: config.RoboticsConfig{
			DefaultRoll: 0, DefaultPitch: 0, DefaultYaw: 0, DefaultSpeed: 100, DefaultAcc: 100,
			Pumps: map[string]config.PumpConfig{
				"pump_a": {MotorChannel: 0, ValveChannel: 0, ValveSteps: 40, MaxSteps: 100, PlungerSpeedIn: 500, PlungerSpeedOut: 500, PrimingSteps: 50, OctoprintID: 0},
				"pump_b": {MotorChannel: 1, ValveChannel: 1, ValveSteps: 40, MaxSteps: 100, PlungerSpeedIn: 500, PlungerSpeedOut: 500, PrimingSteps: 50, OctoprintID: 0},
			},
			PrintServers: []config.PrintServerConfig{{Index: 0, BaseURL: "http://board0", GCodeFolder: dir}},
			Quads: map[string]config.QuadCalibration{
				"quad_a": {
					Vial0:  config.StationCalibration{XOut: 100, XIn: 105, Y: 50, ZOut: 40, ZIn: 10},
					Vial17: config.StationCalibration{XOut: 190, XIn: 195, Y: 14, ZOut: 40, ZIn: 10},
					Wash:   config.StationCalibration{XOut: 50, XIn: 52, Y: 5, ZOut: 40, ZIn: 20},
					Efflux: config.IPPAddress{Num: 2, Idx: 3},
				},
			},
			WashDryDelay:       2 * time.Second,
			CheckStatusTimeout: 3 * time.Second,
			PostGCodeTimeout:   3,
		},
	}
}

func doneStatus(path string) pumpclient.StatusResponse {
	st := pumpclient.StatusResponse{State: "Operational"}
	st.Progress.Completion = 100
	st.Job.File.Name = baseName(path)
	return st
}

type trackingBoard struct {
	mu          sync.Mutex
	log         *[]string
	last        pumpclient.StatusResponse
	onFirstCall func()
	calls       int
	canceled    bool
	disconnected bool
}

func (b *trackingBoard) PostGCode(ctx context.Context, path string, maxAttempts int) error {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	*b.log = append(*b.log, baseName(path))
	b.last = doneStatus(path)
	b.mu.Unlock()
	if first && b.onFirstCall != nil {
		b.onFirstCall()
	}
	return nil
}

func (b *trackingBoard) Status(ctx context.Context) (pumpclient.StatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, nil
}

func (b *trackingBoard) Cancel(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = true
	return nil
}

func (b *trackingBoard) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
	return nil
}

func newTestEngine(t *testing.T, board *trackingBoard, mover ArmMover, clock rigclock.Clock) (*Engine, *status.Actor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	actor := status.NewActor(ctx)
	queue := commandqueue.New().WithClock(clock)
	cfg := testRoboticsConfig(t)
	boards := map[string]Board{"0": board}
	eng := NewEngine(cfg, boards, mover, actor, queue, clock, logging.New(nil))
	return eng, actor
}

func TestEngine_RunWindow_DecomposesStepsAndMovesArmOnlyOnFirstEvent(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, _ := newTestEngine(t, board, mover, clock)

	w := Window{Vials: []int{0, 1}, ActivePumps: []string{"pump_a", "pump_b"}}
	plan := PumpPlan{
		"pump_a": {"quad_a": VialSteps{0: 250}}, // decomposes into 100,100,50 -> 3 events
		"pump_b": {"quad_a": VialSteps{1: 50}},  // decomposes into a single 50-step event
	}
	transform := FitStackedTransform(eng.cfg.Quads["quad_a"])
	centre := WindowCentre(w.Vials)

	err := eng.runWindow(context.Background(), status.Influx, "quad_a", w, plan, transform, &centre, false)
	require.NoError(t, err)

	require.Len(t, log, 6, "3 events x (aspirate+dispense) on the shared board")
	require.Len(t, mover.positions, 3, "arm_path runs exactly once, on the window's first event")
	assert.Empty(t, clock.Slept(), "an ordinary window move never waits out WashDryDelay")
}

func TestEngine_RunSnake_RejectsWhenRigIsNotIdleOrPaused(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)
	actor.SetMode(status.Influx)

	err := eng.RunSnake(context.Background(), status.Influx, []string{"quad_a"}, PumpPlan{}, true, false, false)
	require.Error(t, err)
	assert.Empty(t, log, "no G-code should be uploaded when the precondition fails")
}

func TestEngine_RunSnake_DilutionRetransmitsEffluxTwiceHalfASecondApart(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, _ := newTestEngine(t, board, mover, clock)

	err := eng.RunSnake(context.Background(), status.Dilution, []string{"quad_a"}, PumpPlan{}, true, false, false)
	require.NoError(t, err)

	require.Equal(t, 2, eng.queue.Len())
	found := false
	for _, d := range clock.Slept() {
		if d == 500*time.Millisecond {
			found = true
		}
	}
	assert.True(t, found, "expected a 500ms sleep between the efflux command and its retransmit")
}

func TestEngine_RunSnake_UnwindsWhenEmergencyStopLatchesMidRoutine(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)
	board.onFirstCall = func() {
		_ = actor.EmergencyStop(context.Background())
	}
	plan := PumpPlan{"pump_a": {"quad_a": VialSteps{0: 50}}}

	err := eng.RunSnake(context.Background(), status.Influx, []string{"quad_a"}, plan, true, false, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmergencyStop))
}

func TestEngine_FillTubing_RequiresIdle(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)
	actor.SetMode(status.Wash)

	err := eng.FillTubing(context.Background(), 350)
	require.Error(t, err)
	assert.Empty(t, log)
}

func TestEngine_FillTubing_DosesEveryPumpAndReturnsToIdle(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)

	err := eng.FillTubing(context.Background(), 350)
	require.NoError(t, err)
	assert.Equal(t, status.Idle, actor.Snapshot().Mode)
	require.Len(t, log, 2)
}

func TestEngine_PrimeInflux_IsIdempotentOnceAlreadyPrimed(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)

	require.NoError(t, eng.PrimeInflux(context.Background()))
	assert.True(t, actor.Snapshot().PrimeStatus.Influx)
	firstCallCount := len(log)
	require.NotZero(t, firstCallCount)

	err := eng.PrimeInflux(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyPrimed)
	assert.Len(t, log, firstCallCount, "a second prime_influx call must not drive any pump")
}

func TestEngine_PrimeEfflux_FillsOnlyItsQuadsSlot(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)

	err := eng.PrimeEfflux(context.Background())
	require.NoError(t, err)
	assert.True(t, actor.Snapshot().PrimeStatus.Efflux)
	require.Equal(t, 1, eng.queue.Len())

	cmds := eng.queue.PopAll()
	require.Len(t, cmds, 1)
	vector := cmds[0].Value
	require.Len(t, vector, effluxSlots)
	assert.Equal(t, "1|2|3|1", vector[3])
	for i, slot := range vector {
		if i != 3 {
			assert.Empty(t, slot)
		}
	}
}

func TestEngine_StopRobotics_LatchesModeAndCancelsDisconnectsEveryBoard(t *testing.T) {
	var log []string
	board := &trackingBoard{log: &log}
	mover := &recordingMover{fail: map[int]error{}}
	clock := rigclock.NewFake(time.Unix(0, 0))
	eng, actor := newTestEngine(t, board, mover, clock)

	err := eng.StopRobotics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.EmergencyStop, actor.Snapshot().Mode)
	assert.True(t, board.canceled)
	assert.True(t, board.disconnected)
}
