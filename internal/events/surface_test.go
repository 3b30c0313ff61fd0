package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"evolverd/internal/broadcast"
	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/fluidics"
	"evolverd/internal/rigclock"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/logging"
	"evolverd/internal/telemetry/metrics"
	"evolverd/internal/telemetry/tracing"
)

type fakeSender struct{}

func (fakeSender) Send(param string, values []string, kind config.Sentinel, fieldsOut, fieldsIn int) ([]string, bool, error) {
	return values, true, nil
}

type fakeArm struct{ connectErr error }

func (f *fakeArm) Connect(ctx context.Context) error { return f.connectErr }

func testConfig() config.Config {
	return config.Config{
		Serial: config.SerialConfig{Immediate: 'I', Data: 'D'},
		ExperimentalParams: []config.ExperimentParameter{
			{Name: "temp", Value: []string{"30"}, FieldsOut: 1, FieldsIn: 1},
		},
		Robotics: config.RoboticsConfig{
			Pumps:              map[string]config.PumpConfig{},
			PrintServers:       nil,
			Quads:              map[string]config.QuadCalibration{},
			CheckStatusTimeout: time.Second,
			PostGCodeTimeout:   1,
		},
	}
}

func newTestSurface(t *testing.T) (*Surface, *config.Store, *status.Actor) {
	t.Helper()
	store := config.NewStore(testConfig())
	calibrations := config.NewCalibrationStore(nil)

	q := commandqueue.New().WithClock(rigclock.NewFake(time.Now()))
	bEngine := broadcast.New(fakeSender{}, q, store, metrics.NewNoopProvider(), tracing.NewNoop(), logging.New(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	statusActor := status.NewActor(ctx)

	fEngine := fluidics.NewEngine(store.Snapshot(), map[string]fluidics.Board{}, &fakeArm{}, statusActor, q, rigclock.NewFake(time.Now()), logging.New(nil))

	paths := Paths{
		Config:       filepath.Join(t.TempDir(), "conf.yml"),
		Calibrations: filepath.Join(t.TempDir(), "calibrations.json"),
		DeviceName:   filepath.Join(t.TempDir(), "device_name.json"),
	}

	s := NewSurface(paths, store, calibrations, bEngine, q, fEngine, &fakeArm{}, statusActor, logging.New(nil))
	return s, store, statusActor
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSurfaceCommandUpdatesParamAndPublishesConfig(t *testing.T) {
	s, store, _ := newTestSurface(t)
	sub := s.Broadcaster().Subscribe(4)
	defer sub.Close()

	req := CommandRequest{Param: "temp", Value: []string{"32"}, Immediate: true}
	_, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventCommand, raw(t, req))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	p, ok := store.ExperimentParameterSnapshot("temp")
	if !ok || p.Value[0] != "32" {
		t.Fatalf("expected temp updated to 32, got %+v ok=%v", p, ok)
	}

	select {
	case env := <-sub.C():
		if env.Event != EventConfig {
			t.Fatalf("expected config egress, got %s", env.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for config broadcast")
	}
}

func TestSurfaceGetConfigReturnsSnapshot(t *testing.T) {
	s, _, _ := newTestSurface(t)
	got, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventGetConfig, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cfg, ok := got.(config.Config)
	if !ok || len(cfg.ExperimentalParams) != 1 {
		t.Fatalf("unexpected config snapshot %+v", got)
	}
}

func TestSurfaceDeviceNameRoundTrip(t *testing.T) {
	s, _, _ := newTestSurface(t)
	_, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventSetDeviceName, raw(t, SetDeviceNameRequest{Name: "rig-7"}))
	if err != nil {
		t.Fatalf("set device name: %v", err)
	}
	got, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventGetDeviceName, nil)
	if err != nil {
		t.Fatalf("get device name: %v", err)
	}
	payload, ok := got.(BroadcastNamePayload)
	if !ok || payload.Name != "rig-7" {
		t.Fatalf("unexpected device name payload %+v", got)
	}
}

func TestSurfaceCalibrationSetRawThenGet(t *testing.T) {
	s, _, _ := newTestSurface(t)
	calReq := SetRawCalibrationRequest{Name: "od_90", Type: "od", Raw: []float64{1, 2, 3}}
	_, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventSetRawCalibration, raw(t, calReq))
	if err != nil {
		t.Fatalf("set raw calibration: %v", err)
	}

	got, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventGetCalibration, raw(t, NamedCalibrationRequest{Name: "od_90"}))
	if err != nil {
		t.Fatalf("get calibration: %v", err)
	}
	payload, ok := got.(CalibrationPayload)
	if !ok || payload.Calibration.Type != "od" || len(payload.Calibration.Raw) != 3 {
		t.Fatalf("unexpected calibration payload %+v", got)
	}
}

func TestSurfaceCalibrationNamesIncludeType(t *testing.T) {
	s, _, _ := newTestSurface(t)
	_, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventSetRawCalibration, raw(t, SetRawCalibrationRequest{Name: "temp_cal", Type: "temperature", Raw: []float64{1}}))
	if err != nil {
		t.Fatalf("set raw calibration: %v", err)
	}

	got, err := s.Router().Dispatch(context.Background(), DPUEvolver, EventGetCalibrationNames, nil)
	if err != nil {
		t.Fatalf("get calibration names: %v", err)
	}
	entries, ok := got.([]CalibrationNameEntry)
	if !ok || len(entries) != 1 || entries[0].Type != "temperature" {
		t.Fatalf("unexpected entries %+v", got)
	}
}

func TestSurfacePauseThenResumeRestoresIdle(t *testing.T) {
	s, _, statusActor := newTestSurface(t)
	if _, err := s.Router().Dispatch(context.Background(), Robotics, EventPauseRobotics, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if statusActor.Snapshot().Mode != status.Pause {
		t.Fatalf("expected paused mode")
	}
	if _, err := s.Router().Dispatch(context.Background(), Robotics, EventResumeRobotics, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if statusActor.Snapshot().Mode != status.Idle {
		t.Fatalf("expected idle mode after resume")
	}
}

func TestSurfaceStopRoboticsLatchesEmergencyStop(t *testing.T) {
	s, _, statusActor := newTestSurface(t)
	if _, err := s.Router().Dispatch(context.Background(), Robotics, EventStopRobotics, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !statusActor.EmergencyStopActive() {
		t.Fatal("expected emergency stop latched")
	}
}

func TestSurfaceInfluxRoutineLaunchesInBackgroundAndAcks(t *testing.T) {
	s, _, statusActor := newTestSurface(t)
	req := InfluxRoutineRequest{Mode: "influx", ActiveQuads: nil, Plan: fluidics.PumpPlan{}}
	got, err := s.Router().Dispatch(context.Background(), Robotics, EventInfluxRoutine, raw(t, req))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ack, ok := got.(RoutineAck)
	if !ok || !ack.Started {
		t.Fatalf("expected started ack, got %+v", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if statusActor.Snapshot().Mode == status.Idle {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("routine never returned rig to idle")
}

func TestSurfacePrimeInfluxSecondCallReportsAlreadyPrimedResult(t *testing.T) {
	s, _, _ := newTestSurface(t)
	sub := s.Broadcaster().Subscribe(8)
	defer sub.Close()

	firstAck, err := s.Router().Dispatch(context.Background(), Robotics, EventPrimeInfluxRoutine, nil)
	if err != nil {
		t.Fatalf("first prime_influx dispatch: %v", err)
	}
	if ack, ok := firstAck.(RoutineAck); !ok || !ack.Started {
		t.Fatalf("expected started ack, got %+v", firstAck)
	}

	first := waitForRoutineResult(t, sub)
	if first.Done != true {
		t.Fatalf("expected first prime_influx to report done=true, got %+v", first)
	}

	secondAck, err := s.Router().Dispatch(context.Background(), Robotics, EventPrimeInfluxRoutine, nil)
	if err != nil {
		t.Fatalf("second prime_influx dispatch: %v", err)
	}
	if ack, ok := secondAck.(RoutineAck); !ok || !ack.Started {
		t.Fatalf("expected started ack, got %+v", secondAck)
	}

	second := waitForRoutineResult(t, sub)
	if second.Done != false {
		t.Fatalf("expected second prime_influx to report done=false, got %+v", second)
	}
	if second.Reason != "already primed" {
		t.Fatalf("expected reason %q, got %+v", "already primed", second)
	}
}

func waitForRoutineResult(t *testing.T, sub Subscription) RoutineResult {
	t.Helper()
	select {
	case env := <-sub.C():
		if env.Event != EventRoutineResult {
			t.Fatalf("expected routine_result event, got %s", env.Event)
		}
		result, ok := env.Payload.(RoutineResult)
		if !ok {
			t.Fatalf("expected RoutineResult payload, got %+v", env.Payload)
		}
		return result
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for routine result")
		return RoutineResult{}
	}
}

func TestSurfacePublishConfigReloadedEmitsEvent(t *testing.T) {
	s, _, _ := newTestSurface(t)
	sub := s.Broadcaster().Subscribe(4)
	defer sub.Close()

	cfg := testConfig()
	cfg.BroadcastTimingSeconds = 42
	s.PublishConfigReloaded(cfg)

	select {
	case env := <-sub.C():
		if env.Event != EventConfigReloaded {
			t.Fatalf("expected config_reloaded event, got %s", env.Event)
		}
		payload, ok := env.Payload.(ConfigReloadedPayload)
		if !ok || payload.Config.BroadcastTimingSeconds != 42 {
			t.Fatalf("unexpected config_reloaded payload %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for config_reloaded broadcast")
	}
}

func TestSurfaceReconnectRoboticsRecordsArmConnection(t *testing.T) {
	s, _, statusActor := newTestSurface(t)
	if _, err := s.Router().Dispatch(context.Background(), Robotics, EventReconnectRobotics, nil); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !statusActor.Snapshot().Arm.Connected {
		t.Fatal("expected arm connected after reconnect")
	}
}
