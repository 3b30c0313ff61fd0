package config

import "errors"

var (
	// ErrUnknownParam is returned when an operation names a parameter that
	// is not present in the configured experimental_params list.
	ErrUnknownParam = errors.New("unknown experiment parameter")
	// ErrUnknownCalibration is returned when a calibration name has no
	// matching record in the store.
	ErrUnknownCalibration = errors.New("unknown calibration")
	// ErrUnknownFit is returned when a fit name has no matching record
	// within a calibration.
	ErrUnknownFit = errors.New("unknown fit")
	// ErrDuplicateFit is returned by SetFitCalibration when (calibration
	// name, fit name) already exists.
	ErrDuplicateFit = errors.New("duplicate fit name for calibration")
)
