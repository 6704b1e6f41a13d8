package queue

import (
	"context"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

type outcome struct {
	result *codec.Result
	err    error
}

// Future is the pending outcome of a submitted command. It resolves
// exactly once, when the worker finishes the command or the worker shuts
// down with the command still queued.
type Future struct {
	ch chan outcome
}

func newFuture() *Future {
	return &Future{ch: make(chan outcome, 1)}
}

// resolve delivers the outcome. Must be called at most once.
func (f *Future) resolve(result *codec.Result, err error) {
	f.ch <- outcome{result: result, err: err}
}

// Wait blocks until the command completes or ctx is cancelled.
// Cancellation abandons the wait only; the command still executes and
// holds its place in the device's FIFO.
func (f *Future) Wait(ctx context.Context) (*codec.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-f.ch:
		return o.result, o.err
	}
}
