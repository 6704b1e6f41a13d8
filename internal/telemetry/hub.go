package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
	"github.com/silverlink-av/avgate-core/internal/device"
)

// Domain-specific errors for telemetry subscriptions.
var (
	// ErrNoTelemetry is returned when subscribing to a device that has
	// no telemetry endpoint configured.
	ErrNoTelemetry = errors.New("telemetry: device has no telemetry endpoint")

	// ErrHubClosed is returned for operations on a closed hub.
	ErrHubClosed = errors.New("telemetry: hub closed")
)

// defaultBufferSize is the per-subscriber reading buffer. At typical
// meter rates (10-20 readings/s) this absorbs several seconds of stall.
const defaultBufferSize = 64

// ListenFunc opens a datagram listener for addr, delivering each
// datagram to handler. Injectable for tests; the default wires
// conn.NewUDPListener.
type ListenFunc func(addr string, handler func(data []byte)) (io.Closer, error)

// Logger defines the logging interface for the hub.
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

// Subscription is one subscriber's view of a device's telemetry stream.
type Subscription struct {
	deviceID string
	ch       chan codec.Reading
	dropped  atomic.Uint64

	// mu serialises push against channel closure: without it a reading
	// published concurrently with an unsubscribe could be sent on a
	// closed channel.
	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	unsub     func()
}

// Readings returns the subscriber's buffered reading stream. The channel
// is closed when the subscription or the hub closes.
func (s *Subscription) Readings() <-chan codec.Reading {
	return s.ch
}

// Dropped reports how many readings this subscriber lost to a full
// buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber. The device's UDP listener is released
// when its last subscriber leaves. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.unsub)
}

// push delivers a reading, dropping the oldest buffered reading when the
// subscriber is behind. Readings racing a Close are counted dropped.
func (s *Subscription) push(r codec.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.ch <- r:
		return
	default:
	}
	// Buffer full: evict one, then try once more. A concurrent consume
	// can race the eviction; losing that race just means the reading
	// lands in the freed slot anyway or is counted dropped.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// shut closes the reading channel exactly once, fencing off concurrent
// pushes first.
func (s *Subscription) shut() {
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// feed is the hub's per-device state: one listener shared by all of the
// device's subscribers.
type feed struct {
	listener io.Closer
	subs     map[*Subscription]struct{}
}

// Options configures a hub.
type Options struct {
	// Registry resolves device ids to telemetry endpoints and dialects.
	Registry *device.Registry

	// BufferSize is the per-subscriber buffer. Zero uses the default.
	BufferSize int

	// Listen opens datagram listeners. Nil uses conn.NewUDPListener.
	Listen ListenFunc

	// Logger receives hub events. Nil disables logging.
	Logger Logger
}

// Hub routes device telemetry to subscribers and sinks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	registry *device.Registry
	bufSize  int
	listen   ListenFunc
	logger   Logger

	mu     sync.Mutex
	feeds  map[string]*feed
	sinks  []*relay
	closed bool

	published atomic.Uint64
	malformed atomic.Uint64
}

// NewHub creates an idle hub. Listeners are created on demand as
// subscribers arrive.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	h := &Hub{
		registry: opts.Registry,
		bufSize:  opts.BufferSize,
		listen:   opts.Listen,
		logger:   opts.Logger,
		feeds:    make(map[string]*feed),
	}
	if h.listen == nil {
		h.listen = h.dialListener
	}
	return h
}

// dialListener is the production ListenFunc.
func (h *Hub) dialListener(addr string, handler func(data []byte)) (io.Closer, error) {
	l := conn.NewUDPListener(addr, handler, h.logger)
	if err := l.Start(); err != nil {
		return nil, err
	}
	return l, nil
}

// Subscribe attaches a subscriber to deviceID's telemetry stream,
// starting the device's UDP listener if this is its first subscriber.
func (h *Hub) Subscribe(deviceID string) (*Subscription, error) {
	dev, err := h.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	addr := dev.TelemetryAddr()
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTelemetry, deviceID)
	}

	c, err := codec.ForDialect(dev.Dialect)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		deviceID: deviceID,
		ch:       make(chan codec.Reading, h.bufSize),
	}
	sub.unsub = func() { h.unsubscribe(deviceID, sub) }

	f, ok := h.feeds[deviceID]
	if !ok {
		listener, err := h.listen(addr, func(data []byte) {
			h.handleDatagram(deviceID, c, data)
		})
		if err != nil {
			return nil, fmt.Errorf("starting telemetry listener for %s: %w", deviceID, err)
		}
		f = &feed{listener: listener, subs: make(map[*Subscription]struct{})}
		h.feeds[deviceID] = f
		h.logger.Info("telemetry listener started", "device", deviceID, "addr", addr)
	}
	f.subs[sub] = struct{}{}

	return sub, nil
}

// unsubscribe detaches sub and releases the device listener when the
// last subscriber leaves.
func (h *Hub) unsubscribe(deviceID string, sub *Subscription) {
	var found bool
	var listener io.Closer

	h.mu.Lock()
	if f, ok := h.feeds[deviceID]; ok {
		if _, found = f.subs[sub]; found {
			delete(f.subs, sub)
			if len(f.subs) == 0 {
				delete(h.feeds, deviceID)
				listener = f.listener
			}
		}
	}
	h.mu.Unlock()

	// Hub.Close may have detached the sub already; its channel is closed
	// exactly once, by whichever path removed it.
	if !found {
		return
	}
	sub.shut()

	if listener != nil {
		listener.Close()
		h.logger.Info("telemetry listener stopped", "device", deviceID)
	}
}

// handleDatagram decodes one datagram and publishes the reading.
// Malformed datagrams are counted and dropped; device meters misfire
// often enough that logging each one would be noise.
func (h *Hub) handleDatagram(deviceID string, c codec.Codec, data []byte) {
	reading, err := c.DecodeReading(deviceID, data)
	if err != nil {
		h.malformed.Add(1)
		h.logger.Debug("malformed telemetry datagram", "device", deviceID, "error", err)
		return
	}
	h.Publish(*reading)
}

// Publish fans a reading out to the device's subscribers and to every
// sink. Sources other than UDP listeners (energy pollers) inject
// readings here too.
func (h *Hub) Publish(r codec.Reading) {
	h.mu.Lock()
	var subs []*Subscription
	if f, ok := h.feeds[r.DeviceID]; ok {
		subs = make([]*Subscription, 0, len(f.subs))
		for s := range f.subs {
			subs = append(subs, s)
		}
	}
	sinks := h.sinks
	h.mu.Unlock()

	for _, s := range subs {
		s.push(r)
	}
	for _, rl := range sinks {
		rl.push(r)
	}
	h.published.Add(1)
}

// AddSink registers a sink that receives every published reading. The
// sink runs behind its own buffer so a slow sink never stalls fan-out.
func (h *Hub) AddSink(s Sink) {
	rl := newRelay(s, h.bufSize, h.logger)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		rl.close()
		return
	}
	h.sinks = append(h.sinks, rl)
	h.mu.Unlock()
}

// Stats is a point-in-time hub snapshot.
type Stats struct {
	Published     uint64 `json:"published"`
	Malformed     uint64 `json:"malformed"`
	ActiveFeeds   int    `json:"active_feeds"`
	Subscriptions int    `json:"subscriptions"`
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := 0
	for _, f := range h.feeds {
		subs += len(f.subs)
	}
	return Stats{
		Published:     h.published.Load(),
		Malformed:     h.malformed.Load(),
		ActiveFeeds:   len(h.feeds),
		Subscriptions: subs,
	}
}

// Close stops every listener, closes every subscription channel and
// flushes the sinks. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	feeds := h.feeds
	h.feeds = make(map[string]*feed)
	sinks := h.sinks
	h.sinks = nil
	h.mu.Unlock()

	for id, f := range feeds {
		f.listener.Close()
		for s := range f.subs {
			s.shut()
		}
		h.logger.Debug("telemetry listener stopped", "device", id)
	}
	for _, rl := range sinks {
		rl.close()
	}
	return nil
}
