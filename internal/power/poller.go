package power

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"

	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/config"
)

const (
	// powerRegisterBase is the first input register of the meter's
	// measurement block.
	powerRegisterBase = 0x0000

	// powerRegisterCount covers two IEEE 754 float32 values: active
	// power (W) and cumulative energy (kWh), two registers each.
	powerRegisterCount = 4

	// expectedResponseBytes is powerRegisterCount * 2.
	expectedResponseBytes = 8

	// dialTimeout bounds the Modbus TCP connect and each request.
	dialTimeout = 5 * time.Second

	// channelPower and channelEnergy name the readings fed to the hub.
	channelPower  = "power_watts"
	channelEnergy = "energy_kwh"
)

// Reader is the slice of the Modbus client the poller needs. The
// goburrow client satisfies it; tests substitute a fake.
type Reader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// Logger defines the logging interface for the poller.
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

// Deps carries the collaborators a poller needs.
type Deps struct {
	// Config supplies the meter address, unit ID, interval and the
	// device ID its readings are labelled with.
	Config config.PowerConfig

	// Publish receives each decoded sample. Typically hub.Publish.
	Publish func(codec.Reading)

	// Reader overrides the Modbus client; nil dials the configured
	// meter when Run starts.
	Reader Reader

	// Logger receives poller events. Nil disables logging.
	Logger Logger
}

// Stats is a point-in-time snapshot of one poller.
type Stats struct {
	Samples  uint64 `json:"samples"`
	Failures uint64 `json:"failures"`
}

// Poller samples the meter until its context is cancelled.
type Poller struct {
	cfg     config.PowerConfig
	publish func(codec.Reading)
	reader  Reader
	logger  Logger

	samples  atomic.Uint64
	failures atomic.Uint64
}

// NewPoller validates deps and returns a poller; call Run to start it.
func NewPoller(deps Deps) (*Poller, error) {
	if deps.Publish == nil {
		return nil, fmt.Errorf("power: publish func is required")
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Poller{
		cfg:     deps.Config,
		publish: deps.Publish,
		reader:  deps.Reader,
		logger:  deps.Logger,
	}, nil
}

// Run polls until ctx is cancelled. Blocks; run it in a goroutine.
// A connect failure is returned immediately; per-sample failures are
// logged and counted but never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	if p.reader == nil {
		addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
		handler := modbus.NewTCPClientHandler(addr)
		handler.Timeout = dialTimeout
		handler.SlaveId = byte(p.cfg.SlaveID)

		if err := handler.Connect(); err != nil {
			return fmt.Errorf("power: connecting to meter %s: %w", addr, err)
		}
		defer handler.Close() //nolint:errcheck // Best effort on shutdown

		p.reader = modbus.NewClient(handler)
		p.logger.Info("power meter connected", "addr", addr, "unit", p.cfg.SlaveID)
	}

	interval := time.Duration(p.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sample immediately so the first reading doesn't wait a full tick.
	p.sample()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sample()
		}
	}
}

// sample reads the measurement block and publishes its values.
func (p *Poller) sample() {
	data, err := p.reader.ReadInputRegisters(powerRegisterBase, powerRegisterCount)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("power meter read failed", "error", err)
		return
	}

	watts, kwh, err := decodeMeasurements(data)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("power meter response malformed", "error", err)
		return
	}

	now := time.Now().UTC()
	p.publish(codec.Reading{
		DeviceID:  p.cfg.DeviceID,
		Channel:   channelPower,
		Value:     watts,
		Timestamp: now,
	})
	p.publish(codec.Reading{
		DeviceID:  p.cfg.DeviceID,
		Channel:   channelEnergy,
		Value:     kwh,
		Timestamp: now,
	})
	p.samples.Add(1)
}

// decodeMeasurements unpacks the big-endian float32 pair the meter
// returns: active power in watts, then cumulative energy in kWh.
func decodeMeasurements(data []byte) (watts, kwh float64, err error) {
	if len(data) != expectedResponseBytes {
		return 0, 0, fmt.Errorf("short register response: %d bytes, want %d",
			len(data), expectedResponseBytes)
	}

	w := math.Float32frombits(binary.BigEndian.Uint32(data[0:4]))
	e := math.Float32frombits(binary.BigEndian.Uint32(data[4:8]))

	if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
		return 0, 0, fmt.Errorf("power value is not finite")
	}
	if math.IsNaN(float64(e)) || math.IsInf(float64(e), 0) {
		return 0, 0, fmt.Errorf("energy value is not finite")
	}

	return float64(w), float64(e), nil
}

// Stats returns lifetime sample counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Samples:  p.samples.Load(),
		Failures: p.failures.Load(),
	}
}
