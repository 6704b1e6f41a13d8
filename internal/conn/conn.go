package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Connection limits.
const (
	// defaultDialTimeout bounds individual TCP connection attempts.
	defaultDialTimeout = 2 * time.Second

	// readChunkSize is the per-read buffer size for response bytes.
	readChunkSize = 4096

	// maxResponseBytes caps accumulated response size. AV device replies
	// are a few hundred bytes at most; anything larger means the
	// completion check will never fire.
	maxResponseBytes = 64 * 1024
)

// State is the lifecycle state of a connection.
type State string

// Connection states.
const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

// Logger defines the logging interface for connections.
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

// Conn is the transport used by a queue worker to talk to one device.
//
// Exchange sends an encoded command and returns the raw response bytes.
// complete decides when the accumulated response is whole; a nil
// complete means no response is expected and Exchange returns nil bytes
// after the write. Implementations return *ExchangeError so callers can
// inspect the failure stage.
type Conn interface {
	Exchange(ctx context.Context, payload []byte, complete func([]byte) bool, timeout time.Duration) ([]byte, error)
	State() State
	Drain()
	Close() error
}

// Options configures a connection.
type Options struct {
	// Addr is the host:port to dial.
	Addr string

	// DialTimeout bounds each connection attempt. Zero uses the default.
	DialTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect delay. Zero
	// values use the defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Logger receives connection lifecycle events. Nil disables logging.
	Logger Logger
}

// TCPConn is a request/response connection to one TCP device.
//
// Thread Safety:
//   - Exchange must only be called from a single goroutine (the device's
//     queue worker).
//   - State, Drain and Close are safe to call from any goroutine.
type TCPConn struct {
	addr        string
	dialTimeout time.Duration
	logger      Logger
	backoff     *Backoff

	mu      sync.Mutex
	netConn net.Conn
	state   State
}

// NewTCP creates a TCP connection in the idle state. No socket is opened
// until the first Exchange.
func NewTCP(opts Options) *TCPConn {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &TCPConn{
		addr:        opts.Addr,
		dialTimeout: opts.DialTimeout,
		logger:      logger,
		backoff:     newBackoff(opts.InitialBackoff, opts.MaxBackoff),
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *TCPConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exchange sends payload and reads until complete accepts the buffer or
// the timeout fires. Any failure tears the socket down; the next
// Exchange re-dials after a backoff delay.
func (c *TCPConn) Exchange(ctx context.Context, payload []byte, complete func([]byte) bool, timeout time.Duration) ([]byte, error) {
	nc, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)

	if err := nc.SetWriteDeadline(deadline); err != nil {
		c.teardown(nc)
		return nil, newExchangeError(StageWrite, err)
	}
	if _, err := nc.Write(payload); err != nil {
		c.teardown(nc)
		return nil, newExchangeError(StageWrite, err)
	}

	if complete == nil {
		return nil, nil
	}

	if err := nc.SetReadDeadline(deadline); err != nil {
		c.teardown(nc)
		return nil, newExchangeError(StageRead, err)
	}

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if complete(buf) {
				return buf, nil
			}
			if len(buf) > maxResponseBytes {
				c.teardown(nc)
				return nil, newExchangeError(StageRead,
					fmt.Errorf("response exceeded %d bytes without completing", maxResponseBytes))
			}
		}
		if err != nil {
			c.teardown(nc)
			return nil, newExchangeError(StageRead, err)
		}
	}
}

// ensureOpen returns the live socket, dialing if necessary. Dial
// failures leave the connection idle so the next call retries with a
// longer backoff.
func (c *TCPConn) ensureOpen(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	switch c.state {
	case StateDraining, StateClosed:
		c.mu.Unlock()
		return nil, &ExchangeError{Stage: StageConnect, Err: ErrClosed}
	case StateOpen:
		nc := c.netConn
		c.mu.Unlock()
		return nc, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// Backoff before re-dialing. The first attempt after a clean start
	// or a successful connection waits zero.
	if err := c.backoff.Wait(ctx); err != nil {
		c.setState(StateIdle)
		return nil, newExchangeError(StageConnect, err)
	}

	d := net.Dialer{Timeout: c.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.setState(StateIdle)
		c.logger.Warn("dial failed", "addr", c.addr, "error", err)
		return nil, newExchangeError(StageConnect, err)
	}

	c.mu.Lock()
	if c.state == StateDraining || c.state == StateClosed {
		// Drained while dialing; hand the socket back.
		c.mu.Unlock()
		nc.Close()
		return nil, &ExchangeError{Stage: StageConnect, Err: ErrClosed}
	}
	c.netConn = nc
	c.state = StateOpen
	c.mu.Unlock()

	c.backoff.Reset()
	c.logger.Debug("connected", "addr", c.addr)
	return nc, nil
}

// teardown destroys the socket after a failure. The connection returns
// to idle and the next Exchange re-dials lazily.
func (c *TCPConn) teardown(nc net.Conn) {
	nc.Close()

	c.mu.Lock()
	if c.netConn == nc {
		c.netConn = nil
		if c.state == StateOpen || c.state == StateConnecting {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()

	c.logger.Debug("connection torn down", "addr", c.addr)
}

func (c *TCPConn) setState(s State) {
	c.mu.Lock()
	// Drain/close take precedence over worker-side transitions.
	if c.state != StateDraining && c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// Drain stops the connection accepting new exchanges. The in-flight
// exchange, if any, runs to completion on the existing socket.
func (c *TCPConn) Drain() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateDraining
	}
	c.mu.Unlock()
}

// Close drains and destroys the socket. Safe to call more than once.
func (c *TCPConn) Close() error {
	c.mu.Lock()
	nc := c.netConn
	c.netConn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if nc != nil {
		return nc.Close()
	}
	return nil
}

// isTimeout checks if an error is a network timeout.
func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}
