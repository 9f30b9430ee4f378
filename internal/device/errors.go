package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device definition is unusable.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrMissingParameter is returned when a required parameter is absent.
	ErrMissingParameter = errors.New("device: missing parameter")

	// ErrInvalidParameter is returned when a parameter cannot be coerced or is out of range.
	ErrInvalidParameter = errors.New("device: invalid parameter")

	// ErrInvalidPayload is returned when an inbound payload cannot be mapped onto parameters.
	ErrInvalidPayload = errors.New("device: invalid payload")

	// ErrNoHandler is returned when no handler exists for an action.
	ErrNoHandler = errors.New("device: no handler for action")

	// ErrHandlerPanic is returned when a handler panics during dispatch.
	ErrHandlerPanic = errors.New("device: handler panicked")

	// ErrNoBus is returned when a bus operation is attempted on an unwired device.
	ErrNoBus = errors.New("device: not wired to a bus")
)

// ValidationError describes a parameter that failed type coercion or a range check.
type ValidationError struct {
	Param    string
	Value    any
	Expected ParamType
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("parameter %q: %s (got %v)", e.Param, e.Reason, e.Value)
	}
	return fmt.Sprintf("parameter %q: cannot convert %v (%T) to %s", e.Param, e.Value, e.Value, e.Expected)
}

// Unwrap lets errors.Is match ErrInvalidParameter.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameter
}
