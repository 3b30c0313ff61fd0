package broadcast

import "errors"

// ErrImmediateInFlight is returned by a phase run when an inline
// immediate command is currently executing against the serial port.
var ErrImmediateInFlight = errors.New("broadcast: immediate command in flight")
