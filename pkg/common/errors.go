package common

import "errors"

// Error kinds surfaced at the engine's boundary. Callers match them with
// errors.Is; internal code wraps them with fmt.Errorf and %w to add context.
var (
	ErrInvalidThresholdOrdering = errors.New("threshold levels must be strictly increasing by severity")
	ErrUnknownSensorType        = errors.New("unknown sensor type")
	ErrUnitMismatch             = errors.New("unit not convertible to canonical unit")
	ErrReadingFromFuture        = errors.New("reading observed too far in the future")
	ErrInvalidReading           = errors.New("invalid reading")
	ErrAlertNotFound            = errors.New("alert not found")
	ErrInvalidComposition       = errors.New("invalid alert composition")
	ErrAlertTerminal            = errors.New("alert is in a terminal state")
	ErrChannelUnavailable       = errors.New("channel sender unavailable")
)
