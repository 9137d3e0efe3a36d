package models

import "errors"

// Error taxonomy for operations surfaced to callers. Background loops
// (poller, sync) recover locally and never return these to the user.
var (
	// ErrPermissionDenied means location or sensor access was refused.
	// Fatal to the requested operation, never retried automatically.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrSensorUnavailable means the motion sensor hardware is absent.
	ErrSensorUnavailable = errors.New("motion sensor not available")

	// ErrPillarNotFound means the requested pillar id is unknown.
	ErrPillarNotFound = errors.New("pillar not found")

	// ErrCalibrationTimeout means baseline capture exceeded its time
	// budget. The caller may retry with a fresh calibration start.
	ErrCalibrationTimeout = errors.New("baseline calibration timeout")

	// ErrNoPillars is the device's empty-configuration state. It is a
	// recognized non-error condition, not a gateway fault.
	ErrNoPillars = errors.New("no pillars configured on device")

	// ErrCalibrationActive means a calibration session is already running.
	ErrCalibrationActive = errors.New("calibration already in progress")
)
