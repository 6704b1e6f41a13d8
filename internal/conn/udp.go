package conn

import (
	"context"
	"net"
	"sync"
	"time"
)

// UDP limits.
const (
	// datagramBufferSize is large enough for any AV telemetry datagram.
	datagramBufferSize = 2048

	// listenerReadTimeout bounds each blocking read so the listener loop
	// can observe shutdown promptly.
	listenerReadTimeout = 1 * time.Second
)

// UDPConn is a fire-and-forget command connection. Exchange writes one
// datagram and returns no response bytes; the caller synthesises an
// acknowledgement for the submitter.
//
// Thread Safety:
//   - Exchange must only be called from the device's queue worker.
//   - State, Drain and Close are safe from any goroutine.
type UDPConn struct {
	addr   string
	logger Logger

	mu      sync.Mutex
	netConn net.Conn
	state   State
}

// NewUDP creates a UDP command connection in the idle state.
func NewUDP(opts Options) *UDPConn {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &UDPConn{addr: opts.Addr, logger: logger, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *UDPConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exchange sends payload as a single datagram. The complete function is
// ignored; UDP devices send no command responses.
func (c *UDPConn) Exchange(ctx context.Context, payload []byte, _ func([]byte) bool, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	switch c.state {
	case StateDraining, StateClosed:
		c.mu.Unlock()
		return nil, &ExchangeError{Stage: StageConnect, Err: ErrClosed}
	}
	nc := c.netConn
	c.mu.Unlock()

	if nc == nil {
		// Connected UDP sockets resolve once and fail fast on ICMP
		// unreachable, unlike WriteTo on an unconnected socket.
		var d net.Dialer
		dialed, err := d.DialContext(ctx, "udp", c.addr)
		if err != nil {
			return nil, newExchangeError(StageConnect, err)
		}

		c.mu.Lock()
		if c.state == StateDraining || c.state == StateClosed {
			c.mu.Unlock()
			dialed.Close()
			return nil, &ExchangeError{Stage: StageConnect, Err: ErrClosed}
		}
		c.netConn = dialed
		c.state = StateOpen
		c.mu.Unlock()
		nc = dialed
	}

	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		c.teardown(nc)
		return nil, newExchangeError(StageWrite, err)
	}
	if _, err := nc.Write(payload); err != nil {
		c.teardown(nc)
		return nil, newExchangeError(StageWrite, err)
	}
	return nil, nil
}

func (c *UDPConn) teardown(nc net.Conn) {
	nc.Close()

	c.mu.Lock()
	if c.netConn == nc {
		c.netConn = nil
		if c.state == StateOpen {
			c.state = StateIdle
		}
	}
	c.mu.Unlock()
}

// Drain stops the connection accepting new exchanges.
func (c *UDPConn) Drain() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateDraining
	}
	c.mu.Unlock()
}

// Close destroys the socket. Safe to call more than once.
func (c *UDPConn) Close() error {
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

// UDPListener reads telemetry datagrams pushed by one device. Each
// datagram is handed to the callback on the listener's own goroutine;
// the callback must not block.
type UDPListener struct {
	addr    string
	handler func(data []byte)
	logger  Logger

	mu      sync.Mutex
	netConn net.Conn
	closed  bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewUDPListener creates a listener for the device's telemetry endpoint.
// Start must be called to begin the read loop.
func NewUDPListener(addr string, handler func(data []byte), logger Logger) *UDPListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &UDPListener{
		addr:    addr,
		handler: handler,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start dials the telemetry endpoint and launches the read loop.
// Dialing a connected UDP socket both announces our address to devices
// that reply-to-sender and filters out datagrams from other peers.
func (l *UDPListener) Start() error {
	nc, err := net.Dial("udp", l.addr)
	if err != nil {
		return newExchangeError(StageConnect, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		nc.Close()
		return &ExchangeError{Stage: StageConnect, Err: ErrClosed}
	}
	l.netConn = nc
	l.mu.Unlock()

	go l.readLoop(nc)
	return nil
}

func (l *UDPListener) readLoop(nc net.Conn) {
	defer close(l.done)

	buf := make([]byte, datagramBufferSize)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if err := nc.SetReadDeadline(time.Now().Add(listenerReadTimeout)); err != nil {
			l.logger.Warn("telemetry listener deadline failed", "addr", l.addr, "error", err)
			return
		}

		n, err := nc.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-l.stop:
			default:
				l.logger.Warn("telemetry read failed", "addr", l.addr, "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.handler(data)
	}
}

// Close stops the read loop and releases the socket. It blocks until the
// loop has exited. Safe to call more than once.
func (l *UDPListener) Close() error {
	l.stopOnce.Do(func() {
		close(l.stop)

		l.mu.Lock()
		l.closed = true
		nc := l.netConn
		l.netConn = nil
		l.mu.Unlock()

		if nc != nil {
			nc.Close()
			<-l.done
		}
	})
	return nil
}
