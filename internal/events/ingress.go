package events

import "evolverd/internal/fluidics"

// CommandRequest is the payload for EventCommand: a partial update to one
// configured experiment parameter. With Immediate set it is forwarded to
// the microcontroller right away; otherwise it is only queued.
type CommandRequest struct {
	Param     string   `json:"param"`
	Value     []string `json:"value"`
	Immediate bool     `json:"immediate"`
}

// NamedCalibrationRequest carries just a calibration name, the shape
// shared by getfitnames and getcalibration.
type NamedCalibrationRequest struct {
	Name string `json:"name"`
}

// SetRawCalibrationRequest is the payload for EventSetRawCalibration.
type SetRawCalibrationRequest struct {
	Name string    `json:"name"`
	Type string    `json:"calibrationType"`
	Raw  []float64 `json:"raw"`
}

// SetFitCalibrationRequest is the payload for EventSetFitCalibration.
type SetFitCalibrationRequest struct {
	Name string  `json:"name"`
	Fit  FitData `json:"fit"`
}

// FitData mirrors config.Fit on the wire.
type FitData struct {
	Name         string    `json:"name"`
	Coefficients []float64 `json:"coefficients"`
}

// SetActiveCalRequest is the payload for EventSetActiveCal.
type SetActiveCalRequest struct {
	Name    string `json:"name"`
	FitName string `json:"fit_name"`
}

// GetActiveCalRequest is the payload for EventGetActiveCal: every active
// fit belonging to a calibration type.
type GetActiveCalRequest struct {
	Type string `json:"calibrationType"`
}

// SetDeviceNameRequest is the payload for EventSetDeviceName.
type SetDeviceNameRequest struct {
	Name string `json:"name"`
}

// FillTubingRequest is the payload for EventFillTubingRoutine.
type FillTubingRequest struct {
	Steps int `json:"steps"`
}

// InfluxRoutineRequest is the payload for EventInfluxRoutine, covering
// the influx, dilution and vial-setup snake routines alike — the only
// difference between them is Mode and whether a wash step runs.
type InfluxRoutineRequest struct {
	Mode        string            `json:"mode"`
	ActiveQuads []string          `json:"active_quads"`
	Plan        fluidics.PumpPlan `json:"plan"`
	Uniform     bool              `json:"uniform"`
	Wash        bool              `json:"wash"`
	Primed      bool              `json:"primed"`
}

// RoutineAck is the synchronous reply to a routine-launching event: the
// routine itself always runs on a background goroutine (it can run for
// many minutes), so the only thing a caller learns immediately is
// whether it started and the id its eventual RoutineResult will carry.
type RoutineAck struct {
	Started   bool   `json:"started"`
	RoutineID string `json:"routine_id"`
}
