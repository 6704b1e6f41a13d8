package ircode

import "errors"

var (
	// ErrNotFound is returned when no code matches the lookup.
	ErrNotFound = errors.New("ircode: code not found")

	// ErrExists is returned when a code for the same device and
	// function already exists.
	ErrExists = errors.New("ircode: code already exists")

	// ErrInvalid is returned for a malformed code record (missing
	// device, function or code text). Completeness failures surface as
	// codec.ErrIncompleteCode instead.
	ErrInvalid = errors.New("ircode: invalid code record")
)
