package device

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a device id is not in the registry.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a device definition fails
	// validation.
	ErrInvalidDevice = errors.New("device: invalid definition")

	// ErrDuplicateID is returned when two devices share an id.
	ErrDuplicateID = errors.New("device: duplicate id")
)
