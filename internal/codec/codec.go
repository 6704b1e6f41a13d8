package codec

import "fmt"

// Codec translates between the canonical command model and one dialect's
// wire format.
//
// Implementations are stateless and safe for concurrent use. Encoding and
// decoding perform no I/O; connection handling lives entirely in the conn
// package.
type Codec interface {
	// Dialect returns the dialect this codec implements.
	Dialect() Dialect

	// Encode renders a command into the bytes written to the device,
	// including the dialect's frame terminator. It validates the payload
	// and returns ErrInvalidPayload (or ErrIncompleteCode for IR) without
	// touching the device when the payload cannot be expressed.
	Encode(cmd *Command) ([]byte, error)

	// DecodeResult parses a command response. A device-reported failure
	// (ERR tokens) decodes into a Result with OK=false; only responses
	// matching no permitted shape return ErrProtocol.
	DecodeResult(cmd *Command, data []byte) (*Result, error)

	// DecodeReading parses one telemetry datagram. Dialects without
	// push telemetry return ErrProtocol.
	DecodeReading(deviceID string, data []byte) (*Reading, error)

	// ResponseComplete reports whether buf holds a full response frame.
	// The connection keeps reading until this returns true or the
	// command's deadline expires.
	ResponseComplete(buf []byte) bool
}

// ForDialect returns the codec for the given dialect.
func ForDialect(d Dialect) (Codec, error) {
	switch d {
	case DialectJSONRPC:
		return JSONRPC{}, nil
	case DialectTextMatrix:
		return TextMatrix{}, nil
	case DialectIRBlaster:
		return IRBlaster{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, d)
	}
}
