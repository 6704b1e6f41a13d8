package conn

import (
	"errors"
	"fmt"
)

// Domain-specific errors for connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClosed is returned when an exchange is attempted on a closed
	// or draining connection.
	ErrClosed = errors.New("conn: closed")

	// ErrIO is returned when a dial, write or read fails. The socket is
	// torn down and the next exchange re-dials.
	ErrIO = errors.New("conn: io failure")

	// ErrTimeout is returned when the device does not produce a complete
	// response within the exchange deadline.
	ErrTimeout = errors.New("conn: exchange timed out")
)

// Stage identifies where in an exchange a failure occurred. The queue
// uses it to decide retry eligibility: once any bytes may have reached
// the device, non-idempotent commands are never retried.
type Stage string

// Exchange stages.
const (
	StageConnect Stage = "connect"
	StageWrite   Stage = "write"
	StageRead    Stage = "read"
)

// ExchangeError wraps a failure with the stage it occurred in.
type ExchangeError struct {
	Stage Stage
	Err   error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange failed (%s): %v", e.Stage, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// BytesWritten reports whether any command bytes may have reached the
// device before the failure.
func (e *ExchangeError) BytesWritten() bool {
	return e.Stage != StageConnect
}

// newExchangeError wraps err with its stage and the ErrIO or ErrTimeout
// sentinel so callers can match with errors.Is.
func newExchangeError(stage Stage, err error) *ExchangeError {
	sentinel := ErrIO
	if isTimeout(err) {
		sentinel = ErrTimeout
	}
	return &ExchangeError{Stage: stage, Err: fmt.Errorf("%w: %w", sentinel, err)}
}
