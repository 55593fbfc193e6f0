package device

import "errors"

var (
	// ErrUnknownDevice is returned for a command against a device the
	// dashboard has never loaded.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrCommandPending is returned when a device already has an
	// optimistic command in flight. Overlapping optimistic writes to one
	// device are never allowed.
	ErrCommandPending = errors.New("device: command already pending")

	// ErrUpdateFailed wraps a persistence failure. The optimistic state
	// has already been rolled back when this is returned.
	ErrUpdateFailed = errors.New("device: update failed")

	// ErrInvalidBrightness is returned for brightness outside 0-100.
	ErrInvalidBrightness = errors.New("device: brightness out of range")

	// ErrWrongType is returned when a command does not apply to the
	// device's type.
	ErrWrongType = errors.New("device: command not supported for device type")
)
