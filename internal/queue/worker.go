package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silverlink-av/avgate-core/internal/breaker"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
)

// Queue defaults.
const (
	// defaultCapacity bounds how many commands may wait per device.
	defaultCapacity = 32

	// defaultTimeout is the exchange timeout when neither the command
	// nor the device specifies one.
	defaultTimeout = 3 * time.Second
)

// Logger defines the logging interface for queue workers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps carries the collaborators a worker needs.
type Deps struct {
	// DeviceID labels log lines and results.
	DeviceID string

	// Codec encodes commands and decodes responses for the device's
	// dialect.
	Codec codec.Codec

	// Conn is the device's command connection, owned exclusively by
	// this worker.
	Conn conn.Conn

	// Breaker is consulted before each network attempt and told about
	// every outcome.
	Breaker *breaker.Breaker

	// Capacity bounds the queue. Zero uses the default.
	Capacity int

	// DefaultTimeout applies to commands that carry no timeout. Zero
	// uses the package default.
	DefaultTimeout time.Duration

	// Logger receives worker events. Nil disables logging.
	Logger Logger
}

type task struct {
	cmd    *codec.Command
	future *Future
}

// Stats is a point-in-time snapshot of one worker. Latency percentiles
// cover the most recent exchanges, successful or not; attempts that
// never reached the network (breaker rejection, encode failure) are
// excluded.
type Stats struct {
	Depth     int    `json:"depth"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retries   uint64 `json:"retries"`
	Rejected  uint64 `json:"rejected"`
	Timeouts  uint64 `json:"timeouts"`

	LatencyMsP50 float64 `json:"latency_ms_p50"`
	LatencyMsP95 float64 `json:"latency_ms_p95"`
	LatencyMsP99 float64 `json:"latency_ms_p99"`
}

// Worker executes commands for one device, strictly in submission order.
//
// Thread Safety:
//   - Submit, Stats and Close are safe from any goroutine.
//   - The connection is touched only by the worker goroutine.
type Worker struct {
	deviceID       string
	codec          codec.Codec
	conn           conn.Conn
	breaker        *breaker.Breaker
	defaultTimeout time.Duration
	logger         Logger

	tasks chan *task

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	draining atomic.Bool

	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	rejected  atomic.Uint64
	timeouts  atomic.Uint64

	latency latencyWindow
}

// NewWorker creates a worker and starts its goroutine.
func NewWorker(deps Deps) *Worker {
	if deps.Capacity <= 0 {
		deps.Capacity = defaultCapacity
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = defaultTimeout
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deviceID:       deps.DeviceID,
		codec:          deps.Codec,
		conn:           deps.Conn,
		breaker:        deps.Breaker,
		defaultTimeout: deps.DefaultTimeout,
		logger:         deps.Logger,
		tasks:          make(chan *task, deps.Capacity),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues a command and returns its Future. A command object is
// single-use: resubmitting one returns ErrAlreadyConsumed regardless of
// how the first submission ended.
func (w *Worker) Submit(cmd *codec.Command) (*Future, error) {
	if !cmd.MarkConsumed() {
		return nil, ErrAlreadyConsumed
	}
	if w.draining.Load() {
		return nil, ErrClosed
	}

	t := &task{cmd: cmd, future: newFuture()}
	select {
	case w.tasks <- t:
		w.enqueued.Add(1)
		// Close may have flushed the queue between the draining check
		// and the send; re-flush so a task that raced in behind the
		// drain still resolves instead of stranding its Future.
		if w.draining.Load() {
			w.flush()
		}
		return t.future, nil
	default:
		w.rejected.Add(1)
		return nil, ErrQueueFull
	}
}

// run drains the queue one command at a time.
func (w *Worker) run() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			w.flush()
			return
		case t := <-w.tasks:
			w.execute(t)
		}
	}
}

// flush fails every command still queued at shutdown.
func (w *Worker) flush() {
	for {
		select {
		case t := <-w.tasks:
			w.failed.Add(1)
			t.future.resolve(nil, ErrClosed)
		default:
			return
		}
	}
}

// execute runs one command through breaker, codec and connection.
func (w *Worker) execute(t *task) {
	cmd := t.cmd

	// Encode before consulting the breaker: a malformed command says
	// nothing about device health and must not claim the half-open
	// probe slot on its way to a no-I/O failure.
	payload, err := w.codec.Encode(cmd)
	if err != nil {
		w.failed.Add(1)
		t.future.resolve(nil, err)
		return
	}

	// Fast-fail while the circuit is open; the attempt never reaches
	// the network and does not count as an outcome.
	if err := w.breaker.Allow(); err != nil {
		w.failed.Add(1)
		t.future.resolve(nil, err)
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = w.defaultTimeout
	}

	attempts := cmd.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			w.retries.Add(1)
			w.logger.Debug("retrying command",
				"device", w.deviceID,
				"correlation_id", cmd.CorrelationID,
				"attempt", attempt+1,
			)
			// Re-check the breaker between attempts; earlier failures
			// may have tripped it.
			if err := w.breaker.Allow(); err != nil {
				w.failed.Add(1)
				t.future.resolve(nil, err)
				return
			}
		}

		start := time.Now()
		resp, err := w.conn.Exchange(w.ctx, payload, w.codec.ResponseComplete, timeout)
		w.latency.record(time.Since(start))
		if err != nil {
			if errors.Is(err, conn.ErrTimeout) {
				w.timeouts.Add(1)
			}
			w.breaker.RecordFailure()
			lastErr = err
			if w.retryable(cmd, err) && attempt < attempts-1 {
				continue
			}
			break
		}

		if resp == nil {
			// Fire-and-forget transport: the datagram left, which is
			// all the acknowledgement UDP offers.
			w.breaker.RecordSuccess()
			w.completed.Add(1)
			t.future.resolve(&codec.Result{
				DeviceID:      w.deviceID,
				CorrelationID: cmd.CorrelationID,
				OK:            true,
			}, nil)
			return
		}

		result, err := w.codec.DecodeResult(cmd, resp)
		if err != nil {
			// Unintelligible response. Counts against the breaker and
			// is never retried: the device received the command.
			w.breaker.RecordFailure()
			w.failed.Add(1)
			t.future.resolve(nil, err)
			return
		}

		// A well-formed rejection (OK=false) is still a healthy
		// transport round trip.
		w.breaker.RecordSuccess()
		w.completed.Add(1)
		result.DeviceID = w.deviceID
		t.future.resolve(result, nil)
		return
	}

	w.failed.Add(1)
	w.logger.Warn("command failed",
		"device", w.deviceID,
		"correlation_id", cmd.CorrelationID,
		"error", lastErr,
	)
	t.future.resolve(nil, lastErr)
}

// retryable decides whether a failed attempt may be retried. Transport
// failures before any bytes left are always safe to retry; once bytes
// may have reached the device only idempotent commands retry.
func (w *Worker) retryable(cmd *codec.Command, err error) bool {
	var ee *conn.ExchangeError
	if !errors.As(err, &ee) {
		return false
	}
	if errors.Is(err, conn.ErrClosed) {
		return false
	}
	if !ee.BytesWritten() {
		return true
	}
	return cmd.Idempotent
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	p50, p95, p99 := w.latency.percentiles()
	return Stats{
		Depth:        len(w.tasks),
		Enqueued:     w.enqueued.Load(),
		Completed:    w.completed.Load(),
		Failed:       w.failed.Load(),
		Retries:      w.retries.Load(),
		Rejected:     w.rejected.Load(),
		Timeouts:     w.timeouts.Load(),
		LatencyMsP50: p50,
		LatencyMsP95: p95,
		LatencyMsP99: p99,
	}
}

// ConnState reports the connection's lifecycle state for health
// snapshots.
func (w *Worker) ConnState() conn.State {
	return w.conn.State()
}

// Close stops accepting submissions, lets the in-flight command finish,
// fails everything still queued and releases the connection. It blocks
// until the worker goroutine has exited. Safe to call more than once.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() {
		w.draining.Store(true)
		w.conn.Drain()
		w.cancel()
		<-w.done
		w.conn.Close()
	})
	return nil
}
