// Package events defines the client-facing event namespace: the event
// names a socket transport dispatches on, the Go payload each one
// carries, and a routing table from event name to handler. The
// transport itself — the process accepting connections and marshaling
// frames to/from JSON — is an external collaborator; this package owns
// only the schema.
package events

// Namespace groups related events the way the transport's two
// connection endpoints do.
type Namespace string

const (
	DPUEvolver Namespace = "/dpu-evolver"
	Robotics   Namespace = "/robotics"
)

// Ingress event names, unchanged from the client event namespace.
const (
	EventCommand             = "command"
	EventGetConfig           = "getconfig"
	EventGetCalibrationNames = "getcalibrationnames"
	EventGetFitNames         = "getfitnames"
	EventGetCalibration      = "getcalibration"
	EventSetRawCalibration   = "setrawcalibration"
	EventSetFitCalibration   = "setfitcalibration"
	EventSetActiveCal        = "setactivecal"
	EventGetActiveCal        = "getactivecal"
	EventGetDeviceName       = "getdevicename"
	EventSetDeviceName       = "setdevicename"

	EventFillTubingRoutine    = "fill_tubing_routine"
	EventPrimeInfluxRoutine   = "prime_influx_routine"
	EventPrimeEffluxRoutine   = "prime_efflux_routine"
	EventInfluxRoutine        = "influx_routine"
	EventRequestRoboticsState = "request_robotics_status"
	EventRequestPumpConf      = "request_pump_conf"
	EventOverrideRobotics     = "override_robotics_status"
	EventStopRobotics         = "stop_robotics"
	EventReconnectRobotics    = "reconnect_robotics"
	EventPauseRobotics        = "pause_robotics"
	EventResumeRobotics       = "resume_robotics"
)

// Egress event names.
const (
	EventBroadcast              = "broadcast"
	EventConfig                 = "config"
	EventCalibrationNames       = "calibrationnames"
	EventFitNames               = "fitnames"
	EventCalibration            = "calibration"
	EventActiveCalibrations     = "activecalibrations"
	EventBroadcastName          = "broadcastname"
	EventCalibrationRawCallback = "calibrationrawcallback"
	EventActiveRoboticsStatus   = "active_robotics_status"
	EventActivePumpConf         = "active_pump_conf"
	EventRoutineResult          = "routine_result"
	EventConfigReloaded         = "config_reloaded"
)

// Envelope is one outbound message: a namespace, an event name, and its
// payload, ready for a transport adapter to marshal.
type Envelope struct {
	Namespace Namespace
	Event     string
	Payload   any
}
