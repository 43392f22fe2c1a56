package types

import "errors"

// Error taxonomy for the control loop. The scheduler classifies tick
// failures with errors.Is against these sentinels; collaborators wrap
// them with context via fmt.Errorf and %w.
var (
	// ErrConnectivity means the automation hub is unreachable. A tick
	// that hits this aborts and is counted as a failure.
	ErrConnectivity = errors.New("hub unreachable")

	// ErrDataUnavailable means telemetry or a forecast series is missing
	// or malformed. Aborts the tick, counted as a failure.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrActuationFailed means a command was sent but not confirmed
	// applied. Recorded against the decision; the tick otherwise
	// completes.
	ErrActuationFailed = errors.New("actuation not confirmed")

	// ErrConfigInvalid means a threshold ordering or device definition is
	// broken. Raised at load time only, never at decision time.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrDeviceNotFound is returned by load control for unknown devices.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceNotShedable is returned when a shed is attempted against a
	// critical or non-sheddable device.
	ErrDeviceNotShedable = errors.New("device cannot be shed")
)
