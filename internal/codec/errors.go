package codec

import "errors"

// Domain-specific errors for codec operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrProtocol is returned when a wire response is malformed or does
	// not match any shape the dialect permits. Protocol errors are never
	// retried; they indicate a device/firmware mismatch, not a transient
	// fault.
	ErrProtocol = errors.New("codec: protocol error")

	// ErrIncompleteCode is returned when an IR code fails the
	// completeness check. Incomplete codes are rejected before
	// transmission and before persistence.
	ErrIncompleteCode = errors.New("codec: incomplete ir code")

	// ErrUnknownDialect is returned when no codec exists for a dialect.
	ErrUnknownDialect = errors.New("codec: unknown dialect")

	// ErrInvalidPayload is returned when a command payload does not
	// match the shape the dialect expects. The device is never contacted.
	ErrInvalidPayload = errors.New("codec: invalid command payload")
)
