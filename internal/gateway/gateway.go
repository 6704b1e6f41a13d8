package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/silverlink-av/avgate-core/internal/breaker"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
	"github.com/silverlink-av/avgate-core/internal/device"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/config"
	"github.com/silverlink-av/avgate-core/internal/queue"
	"github.com/silverlink-av/avgate-core/internal/telemetry"
)

// ErrClosed is returned by operations on a closed gateway.
var ErrClosed = errors.New("gateway: closed")

// Logger defines the logging interface for the gateway.
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

// ResultFunc receives every completed command result. Used to fan
// results out to MQTT without coupling the gateway to the broker.
type ResultFunc func(codec.Result)

// Options configures a Gateway.
type Options struct {
	// Config supplies queue, reconnect and breaker tuning.
	Config *config.Config

	// Registry holds the device inventory. Required.
	Registry *device.Registry

	// Hub distributes push telemetry. Required.
	Hub *telemetry.Hub

	// OnResult, when set, is called with every command result that
	// reaches a terminal state through Execute. Must not block.
	OnResult ResultFunc

	// Logger receives gateway events. Nil disables logging.
	Logger Logger

	// dial hooks are test seams; nil uses the real connections.
	dialTCP func(opts conn.Options) conn.Conn
	dialUDP func(opts conn.Options) conn.Conn
}

// runtime bundles everything owned on behalf of one device.
type runtime struct {
	device  device.Device
	conn    conn.Conn
	breaker *breaker.Breaker
	worker  *queue.Worker
}

// Gateway routes commands to per-device workers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Gateway struct {
	cfg      *config.Config
	registry *device.Registry
	hub      *telemetry.Hub
	onResult ResultFunc
	logger   Logger

	dialTCP func(opts conn.Options) conn.Conn
	dialUDP func(opts conn.Options) conn.Conn

	mu       sync.RWMutex
	runtimes map[string]*runtime
	closed   bool

	started time.Time
}

// New builds a runtime for every registered device and returns the
// assembled gateway. Connections are lazy: nothing is dialled until the
// first command for a device arrives.
func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("gateway: registry is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.dialTCP == nil {
		opts.dialTCP = func(o conn.Options) conn.Conn { return conn.NewTCP(o) }
	}
	if opts.dialUDP == nil {
		opts.dialUDP = func(o conn.Options) conn.Conn { return conn.NewUDP(o) }
	}

	g := &Gateway{
		cfg:      opts.Config,
		registry: opts.Registry,
		hub:      opts.Hub,
		onResult: opts.OnResult,
		logger:   opts.Logger,
		dialTCP:  opts.dialTCP,
		dialUDP:  opts.dialUDP,
		runtimes: make(map[string]*runtime),
		started:  time.Now(),
	}

	for _, d := range opts.Registry.List() {
		rt, err := g.buildRuntime(d)
		if err != nil {
			g.closeRuntimes()
			return nil, fmt.Errorf("gateway: device %s: %w", d.ID, err)
		}
		g.runtimes[d.ID] = rt
	}

	g.logger.Info("gateway started", "devices", len(g.runtimes))
	return g, nil
}

// buildRuntime wires the conn, breaker and worker for one device.
func (g *Gateway) buildRuntime(d device.Device) (*runtime, error) {
	c, err := codec.ForDialect(d.Dialect)
	if err != nil {
		return nil, err
	}

	connOpts := conn.Options{
		Addr:           d.Addr(),
		InitialBackoff: g.cfg.GetReconnectInitialDelay(),
		MaxBackoff:     g.cfg.GetReconnectMaxDelay(),
		Logger:         g.logger,
	}

	var nc conn.Conn
	switch d.Transport {
	case device.TransportUDP:
		nc = g.dialUDP(connOpts)
	default:
		nc = g.dialTCP(connOpts)
	}

	br := breaker.New(breaker.Config{
		Window:              g.cfg.GetBreakerWindow(),
		VolumeThreshold:     g.cfg.Gateway.Breaker.VolumeThreshold,
		ErrorPercentage:     g.cfg.Gateway.Breaker.ErrorPercentage,
		ResetTimeout:        g.cfg.GetBreakerResetTimeout(),
		ProbeFailureReopens: g.cfg.ProbeFailureReopens(),
	})

	timeout := d.CommandTimeout
	if timeout <= 0 {
		timeout = g.cfg.GetDefaultTimeout()
	}

	w := queue.NewWorker(queue.Deps{
		DeviceID:       d.ID,
		Codec:          c,
		Conn:           nc,
		Breaker:        br,
		Capacity:       g.cfg.Gateway.QueueCapacity,
		DefaultTimeout: timeout,
		Logger:         g.logger,
	})

	return &runtime{device: d, conn: nc, breaker: br, worker: w}, nil
}

// Submit enqueues a command for its device and returns the Future.
//
// Returns:
//   - device.ErrNotFound: no such device
//   - queue.ErrQueueFull: the device's queue is at capacity
//   - ErrClosed: the gateway has shut down
func (g *Gateway) Submit(cmd *codec.Command) (*queue.Future, error) {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return nil, ErrClosed
	}
	rt, ok := g.runtimes[cmd.DeviceID]
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNotFound, cmd.DeviceID)
	}
	return rt.worker.Submit(cmd)
}

// Execute submits a command and waits for its result.
//
// The context bounds only the wait: a command already on the wire runs
// to completion even if ctx expires, and its result still feeds the
// breaker and the OnResult callback.
func (g *Gateway) Execute(ctx context.Context, cmd *codec.Command) (*codec.Result, error) {
	fut, err := g.Submit(cmd)
	if err != nil {
		return nil, err
	}

	res, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if g.onResult != nil {
		g.onResult(*res)
	}
	return res, nil
}

// SubscribeTelemetry opens a telemetry subscription for one device.
func (g *Gateway) SubscribeTelemetry(deviceID string) (*telemetry.Subscription, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return g.hub.Subscribe(deviceID)
}

// Device returns the inventory record for one device.
func (g *Gateway) Device(id string) (device.Device, error) {
	return g.registry.Get(id)
}

// Devices returns the inventory sorted by ID.
func (g *Gateway) Devices() []device.Device {
	return g.registry.List()
}

// ReloadDevices replaces the device inventory and reconciles runtimes:
// removed devices are shut down, new devices get fresh runtimes, and
// devices whose definition changed are rebuilt. Unchanged devices keep
// their runtime, queue and breaker state intact.
//
// On validation failure nothing changes.
func (g *Gateway) ReloadDevices(devices []device.Device) error {
	if err := g.registry.Replace(devices); err != nil {
		return err
	}

	incoming := make(map[string]device.Device, len(devices))
	for _, d := range devices {
		incoming[d.ID] = d
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	// Shut down removed or changed devices.
	for id, rt := range g.runtimes {
		d, ok := incoming[id]
		if ok && d == rt.device {
			continue
		}
		if err := rt.worker.Close(); err != nil {
			g.logger.Warn("worker close failed during reload", "device", id, "error", err)
		}
		delete(g.runtimes, id)
		g.logger.Info("device runtime removed", "device", id, "replaced", ok)
	}

	// Build runtimes for new or changed devices.
	for id, d := range incoming {
		if _, ok := g.runtimes[id]; ok {
			continue
		}
		rt, err := g.buildRuntime(d)
		if err != nil {
			return fmt.Errorf("gateway: device %s: %w", id, err)
		}
		g.runtimes[id] = rt
		g.logger.Info("device runtime added", "device", id)
	}

	return nil
}

// Close shuts down every worker and connection. Queued commands resolve
// with queue.ErrClosed; in-flight exchanges complete first.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.closeRuntimes()
	g.logger.Info("gateway stopped")
	return nil
}

func (g *Gateway) closeRuntimes() {
	g.mu.Lock()
	runtimes := make([]*runtime, 0, len(g.runtimes))
	for _, rt := range g.runtimes {
		runtimes = append(runtimes, rt)
	}
	g.runtimes = make(map[string]*runtime)
	g.mu.Unlock()

	for _, rt := range runtimes {
		if err := rt.worker.Close(); err != nil {
			g.logger.Warn("worker close failed", "device", rt.device.ID, "error", err)
		}
	}
}
