package codec

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Dialect identifies the wire protocol a device speaks.
type Dialect string

// Supported dialects.
const (
	// DialectJSONRPC is the JSON-RPC 2.0 style protocol used by audio DSP
	// zone processors. Frames are CRLF-terminated JSON objects.
	DialectJSONRPC Dialect = "jsonrpc"

	// DialectTextMatrix is the period-terminated text protocol used by
	// HDMI matrix switchers (e.g. "1X2.", "3ALL.", "All1.").
	DialectTextMatrix Dialect = "text_matrix"

	// DialectIRBlaster is the Global Caché style sendir protocol used by
	// IR blasters.
	DialectIRBlaster Dialect = "ir_blaster"
)

// Valid reports whether d names a supported dialect.
func (d Dialect) Valid() bool {
	switch d {
	case DialectJSONRPC, DialectTextMatrix, DialectIRBlaster:
		return true
	}
	return false
}

// Command is one unit of work for a device.
//
// A Command is created by a caller, consumed exactly once by the owning
// device's queue worker, and resolved to a Result or a typed failure.
// The consumed flag guards against silent double execution: a Command
// value that has already been enqueued cannot be enqueued again.
type Command struct {
	// DeviceID is the target device.
	DeviceID string

	// CorrelationID uniquely identifies this command across logs,
	// wire frames (JSON-RPC id) and API responses.
	CorrelationID string

	// Payload is the dialect-specific command body. Each codec documents
	// the JSON shape it accepts.
	Payload json.RawMessage

	// Timeout bounds the full write+read exchange for one attempt.
	// Zero means the gateway default for the device's dialect.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts permitted after an
	// I/O failure. Protocol errors are never retried.
	MaxRetries int

	// Idempotent marks the command as safe to re-send after an I/O
	// failure that may have occurred mid-exchange. Non-idempotent
	// commands are only retried when the failure happened before any
	// bytes reached the device.
	Idempotent bool

	consumed atomic.Bool
}

// MarkConsumed records that the command has been accepted for execution.
// It returns false if the command was already consumed.
func (c *Command) MarkConsumed() bool {
	return c.consumed.CompareAndSwap(false, true)
}

// Consumed reports whether the command has already been accepted.
func (c *Command) Consumed() bool {
	return c.consumed.Load()
}

// Param is the canonical name/value pair extracted from a device response.
// Both the bare-object and single-element-array response shapes observed in
// the field normalise to exactly one Param.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Result is the canonical outcome of a successfully decoded exchange.
//
// OK reflects the device's own verdict ("OK" vs "ERR" tokens, "completeir"
// vs "ERR_n"); a Result with OK=false is still a completed round trip, not
// a protocol error.
type Result struct {
	DeviceID      string `json:"device_id"`
	CorrelationID string `json:"correlation_id"`

	// Param holds the normalised response parameter for dialects that
	// return one (JSON-RPC). Nil for plain acknowledgement dialects.
	Param *Param `json:"param,omitempty"`

	// OK is the device-reported success flag.
	OK bool `json:"ok"`

	// Detail carries the device-reported error detail for OK=false
	// results (e.g. the text after "ERR_4:").
	Detail string `json:"detail,omitempty"`

	// Raw is the trimmed wire response, kept for diagnostics.
	Raw string `json:"raw,omitempty"`
}

// Reading is one immutable telemetry sample pushed by a device.
type Reading struct {
	DeviceID  string    `json:"device_id"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
