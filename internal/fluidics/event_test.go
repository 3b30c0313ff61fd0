package fluidics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolverd/internal/pumpclient"
	"evolverd/internal/rigclock"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
)

type orderedBoard struct {
	mu      sync.Mutex
	name    string
	log     *[]string
	last    pumpclient.StatusResponse
	postErr error
}

func (b *orderedBoard) PostGCode(ctx context.Context, path string, maxAttempts int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	*b.log = append(*b.log, b.name+":"+baseName(path))
	if b.postErr != nil {
		return b.postErr
	}
	b.last = pumpclient.StatusResponse{State: "Operational", Job: struct {
		File struct {
			Name string `json:"name"`
		} `json:"file"`
	}{File: struct {
		Name string `json:"name"`
	}{Name: baseName(path)}}, Progress: struct {
		Completion float64 `json:"completion"`
	}{Completion: 100}}
	return nil
}

func (b *orderedBoard) Status(ctx context.Context) (pumpclient.StatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, nil
}

type fixedModeSource struct {
	sequence []status.Mode
	calls    int
}

func (f *fixedModeSource) Snapshot() status.RoboticsStatus {
	idx := f.calls
	if idx >= len(f.sequence) {
		idx = len(f.sequence) - 1
	}
	f.calls++
	return status.RoboticsStatus{Mode: f.sequence[idx]}
}

func testEvent(boards map[string]Board, aspirate, dispense map[string]string) FluidicEvent {
	return FluidicEvent{
		Boards:             boards,
		AspiratePaths:      aspirate,
		DispensePaths:      dispense,
		CheckStatusTimeout: 3 * time.Second,
		PostGCodeAttempts:  3,
		Tag:                "test",
	}
}

func TestRun_AspiratePhaseCompletesBeforeDispenseBegins(t *testing.T) {
	var log []string
	boards := map[string]Board{
		"a": &orderedBoard{name: "a", log: &log},
		"b": &orderedBoard{name: "b", log: &log},
	}
	ev := testEvent(boards,
		map[string]string{"a": "/tmp/aspirate.gcode", "b": "/tmp/aspirate.gcode"},
		map[string]string{"a": "/tmp/dispense.gcode", "b": "/tmp/dispense.gcode"},
	)

	modes := &fixedModeSource{sequence: []status.Mode{status.Idle}}
	var setModeCalls []status.Mode
	setMode := func(m status.Mode) { setModeCalls = append(setModeCalls, m) }
	clock := rigclock.NewFake(time.Unix(0, 0))

	err := Run(context.Background(), ev, modes, status.Influx, setMode, clock, logging.New(nil), nil)
	require.NoError(t, err)

	require.Len(t, log, 4)
	aspirateEntries := map[string]bool{"a:aspirate.gcode": true, "b:aspirate.gcode": true}
	for _, entry := range log[:2] {
		assert.True(t, aspirateEntries[entry], "expected aspirate upload, got %s", entry)
	}
	dispenseEntries := map[string]bool{"a:dispense.gcode": true, "b:dispense.gcode": true}
	for _, entry := range log[2:] {
		assert.True(t, dispenseEntries[entry], "expected dispense upload, got %s", entry)
	}

	assert.Equal(t, []status.Mode{status.Influx, status.Influx}, setModeCalls)
}

func TestRun_ArmMoveRunsAlongsideAspiratePhase(t *testing.T) {
	var log []string
	boards := map[string]Board{"a": &orderedBoard{name: "a", log: &log}}
	ev := testEvent(boards,
		map[string]string{"a": "/tmp/aspirate.gcode"},
		map[string]string{"a": "/tmp/dispense.gcode"},
	)

	modes := &fixedModeSource{sequence: []status.Mode{status.Idle}}
	clock := rigclock.NewFake(time.Unix(0, 0))

	var armRan bool
	armFn := func(ctx context.Context) error {
		armRan = true
		return nil
	}

	err := Run(context.Background(), ev, modes, status.Influx, func(status.Mode) {}, clock, logging.New(nil), armFn)
	require.NoError(t, err)
	assert.True(t, armRan)
}

func TestRun_CheckStatusTimesOutWhenJobNeverCompletes(t *testing.T) {
	boards := map[string]Board{"a": &neverDoneBoard{}}
	ev := testEvent(boards, map[string]string{"a": "/tmp/aspirate.gcode"}, map[string]string{"a": "/tmp/dispense.gcode"})
	ev.CheckStatusTimeout = 2 * time.Second

	modes := &fixedModeSource{sequence: []status.Mode{status.Idle}}
	clock := rigclock.NewFake(time.Unix(0, 0))

	err := Run(context.Background(), ev, modes, status.Influx, func(status.Mode) {}, clock, logging.New(nil), nil)
	require.Error(t, err)
}

type neverDoneBoard struct{}

func (neverDoneBoard) PostGCode(ctx context.Context, path string, maxAttempts int) error {
	return nil
}

func (neverDoneBoard) Status(ctx context.Context) (pumpclient.StatusResponse, error) {
	return pumpclient.StatusResponse{State: "Printing"}, nil
}

func TestRun_UnwindsWithErrEmergencyStopWhenModeLatches(t *testing.T) {
	boards := map[string]Board{}
	ev := testEvent(boards, map[string]string{}, map[string]string{})

	modes := &fixedModeSource{sequence: []status.Mode{status.EmergencyStop}}
	clock := rigclock.NewFake(time.Unix(0, 0))

	err := Run(context.Background(), ev, modes, status.Influx, func(status.Mode) {}, clock, logging.New(nil), nil)
	require.ErrorIs(t, err, ErrEmergencyStop)
}

func TestRun_BlocksWhilePausedThenProceedsOnceResumed(t *testing.T) {
	var log []string
	boards := map[string]Board{"a": &orderedBoard{name: "a", log: &log}}
	ev := testEvent(boards, map[string]string{"a": "/tmp/aspirate.gcode"}, map[string]string{"a": "/tmp/dispense.gcode"})

	modes := &fixedModeSource{sequence: []status.Mode{status.Pause, status.Pause, status.Idle}}
	clock := rigclock.NewFake(time.Unix(0, 0))

	err := Run(context.Background(), ev, modes, status.Influx, func(status.Mode) {}, clock, logging.New(nil), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(clock.Slept()), 1, "checkPause must poll while paused")
	for _, d := range clock.Slept() {
		if d == 100*time.Millisecond {
			return
		}
	}
	t.Fatal("expected at least one 100ms pause-poll sleep")
}
