package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

// sinkWriteTimeout bounds one sink write. A wedged broker connection
// must not pin the relay goroutine forever.
const sinkWriteTimeout = 5 * time.Second

// Sink receives every reading the hub publishes. Implementations are
// expected to be slow (network brokers, databases); the hub isolates
// them behind a relay so they cannot stall fan-out.
type Sink interface {
	// Name labels the sink in logs and stats.
	Name() string

	// WriteReading delivers one reading. Errors are logged and the
	// reading is dropped; telemetry is lossy end to end.
	WriteReading(ctx context.Context, r codec.Reading) error
}

// relay decouples one sink from the publish path with a drop-oldest
// buffer and a dedicated goroutine.
type relay struct {
	sink   Sink
	ch     chan codec.Reading
	logger Logger

	dropped atomic.Uint64
	errs    atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newRelay(s Sink, bufSize int, logger Logger) *relay {
	r := &relay{
		sink:   s,
		ch:     make(chan codec.Reading, bufSize),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// push enqueues a reading, evicting the oldest when the sink is behind.
func (r *relay) push(reading codec.Reading) {
	select {
	case r.ch <- reading:
		return
	default:
	}
	select {
	case <-r.ch:
		r.dropped.Add(1)
	default:
	}
	select {
	case r.ch <- reading:
	default:
		r.dropped.Add(1)
	}
}

func (r *relay) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			// Drain what is already buffered, then exit.
			for {
				select {
				case reading := <-r.ch:
					r.write(reading)
				default:
					return
				}
			}
		case reading := <-r.ch:
			r.write(reading)
		}
	}
}

func (r *relay) write(reading codec.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if err := r.sink.WriteReading(ctx, reading); err != nil {
		if r.errs.Add(1)%100 == 1 {
			// Log the first failure and every hundredth after; a dead
			// broker would otherwise flood the log at meter rate.
			r.logger.Warn("telemetry sink write failed",
				"sink", r.sink.Name(),
				"error", err,
				"total_errors", r.errs.Load(),
			)
		}
	}
}

// close stops the relay after draining buffered readings.
func (r *relay) close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}
