package events

import "evolverd/internal/config"

// CalibrationNameEntry pairs a calibration's name with its type, the shape
// getcalibrationnames emits — a bare name list loses
// which calibrations are od/temperature/pump, which the client needs to
// group its dropdowns.
type CalibrationNameEntry struct {
	Name string `json:"name"`
	Type string `json:"calibrationType"`
}

// FitNameEntry is one named fit belonging to a calibration.
type FitNameEntry struct {
	Name    string `json:"name"`
	FitName string `json:"fit_name"`
}

// CalibrationPayload is the egress payload for getcalibration: the whole
// record, raw samples and fits alike.
type CalibrationPayload struct {
	Calibration config.Calibration `json:"calibration"`
}

// ActiveCalibrationsPayload answers getactivecal: every fit currently
// active for the requested calibration type, keyed by calibration name.
type ActiveCalibrationsPayload struct {
	Type   string             `json:"calibrationType"`
	Active map[string]config.Fit `json:"active"`
}

// BroadcastNamePayload is the egress payload for broadcastname, sent in
// reply to both getdevicename and setdevicename.
type BroadcastNamePayload struct {
	Name string `json:"name"`
}

// RawCalibrationAck acknowledges a setrawcalibration call with the
// calibration's post-mutation state, letting the client refresh its view
// without a second round trip.
type RawCalibrationAck struct {
	Calibration config.Calibration `json:"calibration"`
}

// RoboticsStatusPayload mirrors status.RoboticsStatus on the wire.
type RoboticsStatusPayload struct {
	Mode        string          `json:"mode"`
	ActiveQuad  string          `json:"active_quad"`
	VialWindow  []int           `json:"vial_window"`
	ActivePumps []string        `json:"active_pumps"`
	Arm         ArmStatusWire   `json:"arm"`
	Octoprint   map[string]bool `json:"octoprint"`
	PrimedInflux bool           `json:"primed_influx"`
	PrimedEfflux bool           `json:"primed_efflux"`
}

// ArmStatusWire mirrors status.ArmStatus on the wire.
type ArmStatusWire struct {
	State     int  `json:"state"`
	ErrorCode int  `json:"error_code"`
	WarnCode  int  `json:"warn_code"`
	Connected bool `json:"connected"`
}

// ConfigReloadedPayload is the egress payload for config_reloaded: the
// freshly reloaded configuration, emitted once a watched conf.yml edit is
// picked up by the store's fsnotify watcher.
type ConfigReloadedPayload struct {
	Config config.Config `json:"config"`
}

// PumpConfPayload answers request_pump_conf: the configured pump bank, so
// the client can render per-pump controls without duplicating the
// robotics config's pump shape.
type PumpConfPayload struct {
	Pumps map[string]config.PumpConfig `json:"pumps"`
}

// RoutineResult is the result record a background routine reports once it
// finishes, successfully or not: Done is either true/false or the literal
// "error", matching the wire shape of the client's routine callbacks.
type RoutineResult struct {
	Done           any                   `json:"done"`
	Routine        string                `json:"routine"`
	RoutineID      string                `json:"routine_id"`
	RoboticsStatus RoboticsStatusPayload `json:"robotics_status"`
	ElapsedTime    float64               `json:"elapsed_time"`
	Message        string                `json:"message"`
	// Reason is set alongside Done: false when a routine didn't run at
	// all because it was already a no-op (e.g. prime_influx called a
	// second time), as opposed to Done: "error" for an actual failure.
	Reason string `json:"reason,omitempty"`
}
