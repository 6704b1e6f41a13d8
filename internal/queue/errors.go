package queue

import "errors"

// Domain-specific errors for command submission.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrQueueFull is returned when the device's queue is at capacity.
	// The command was not enqueued; callers decide whether to retry.
	ErrQueueFull = errors.New("queue: full")

	// ErrAlreadyConsumed is returned when a command object is submitted
	// a second time. Commands are single-use.
	ErrAlreadyConsumed = errors.New("queue: command already consumed")

	// ErrClosed is returned for submissions to a draining or closed
	// worker, and resolves futures of commands still queued at close.
	ErrClosed = errors.New("queue: worker closed")
)
