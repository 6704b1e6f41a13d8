package device

import (
	"fmt"
	"time"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

// Transport is the network transport a device uses for commands.
type Transport string

// Supported transports.
const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// Valid reports whether t names a supported transport.
func (t Transport) Valid() bool {
	return t == TransportTCP || t == TransportUDP
}

// State is the last observed connection state of a device.
type State string

// Device states as reported in health snapshots.
const (
	StateUnknown      State = "unknown"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Device describes one physical AV device.
//
// A Device is created at configuration time and treated as immutable by
// everything except the registry's Replace (config reload). Runtime state
// lives with the device's connection, owned by exactly one queue worker.
type Device struct {
	// ID is the unique device identifier (e.g. "dsp-main-bar").
	ID string `yaml:"id"`

	// Name is a human-readable label for dashboards.
	Name string `yaml:"name"`

	// Transport selects TCP (request/response) or UDP (fire-and-forget).
	Transport Transport `yaml:"transport"`

	// Address is the device's IP address or hostname.
	Address string `yaml:"address"`

	// Port is the command port.
	Port int `yaml:"port"`

	// Dialect selects the wire protocol codec.
	Dialect codec.Dialect `yaml:"dialect"`

	// TelemetryPort is the UDP port the device pushes readings from.
	// Zero means the device has no push telemetry.
	TelemetryPort int `yaml:"telemetry_port"`

	// CommandTimeout overrides the per-dialect default exchange timeout.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Addr returns the host:port command endpoint.
func (d Device) Addr() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// TelemetryAddr returns the host:port telemetry endpoint, or "" when the
// device has no push telemetry.
func (d Device) TelemetryAddr() string {
	if d.TelemetryPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", d.Address, d.TelemetryPort)
}

// Validate checks that the device definition is well-formed.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if !d.Transport.Valid() {
		return fmt.Errorf("%w: device %s: transport %q (use tcp or udp)",
			ErrInvalidDevice, d.ID, d.Transport)
	}
	if d.Address == "" {
		return fmt.Errorf("%w: device %s: address is required", ErrInvalidDevice, d.ID)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: device %s: port %d out of range",
			ErrInvalidDevice, d.ID, d.Port)
	}
	if !d.Dialect.Valid() {
		return fmt.Errorf("%w: device %s: unknown dialect %q",
			ErrInvalidDevice, d.ID, d.Dialect)
	}
	if d.TelemetryPort < 0 || d.TelemetryPort > 65535 {
		return fmt.Errorf("%w: device %s: telemetry_port %d out of range",
			ErrInvalidDevice, d.ID, d.TelemetryPort)
	}
	return nil
}
