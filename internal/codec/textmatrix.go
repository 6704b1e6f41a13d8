package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TextMatrix implements the period-terminated text dialect spoken by HDMI
// matrix switchers.
//
// Command payload shape:
//
//	{"input": 1, "outputs": [2]}        -> "1X2."
//	{"input": 1, "outputs": [2, 3, 5]}  -> "1X2&3>5."
//	{"input": 3, "all": true}           -> "3ALL."
//	{"one_to_one": true}                -> "All1."
//
// Responses are bare "OK" / "ERR" tokens; "ERR" is a device-reported
// failure, anything else is a protocol error.
type TextMatrix struct{}

// matrixPayload is the caller-facing command payload.
type matrixPayload struct {
	Input    int   `json:"input"`
	Outputs  []int `json:"outputs"`
	All      bool  `json:"all"`
	OneToOne bool  `json:"one_to_one"`
}

// Dialect implements Codec.
func (TextMatrix) Dialect() Dialect { return DialectTextMatrix }

// Encode implements Codec.
func (TextMatrix) Encode(cmd *Command) ([]byte, error) {
	var p matrixPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if p.OneToOne {
		return []byte("All1."), nil
	}

	if p.Input <= 0 {
		return nil, fmt.Errorf("%w: input must be positive", ErrInvalidPayload)
	}

	if p.All {
		return []byte(strconv.Itoa(p.Input) + "ALL."), nil
	}

	if len(p.Outputs) == 0 {
		return nil, fmt.Errorf("%w: at least one output is required", ErrInvalidPayload)
	}
	for _, out := range p.Outputs {
		if out <= 0 {
			return nil, fmt.Errorf("%w: output must be positive, got %d",
				ErrInvalidPayload, out)
		}
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(p.Input))
	b.WriteByte('X')
	if len(p.Outputs) == 1 {
		b.WriteString(strconv.Itoa(p.Outputs[0]))
	} else {
		// Multi-output routes list all but the final output joined by
		// '&', then '>' before the final one: "1X2&3>5."
		for i, out := range p.Outputs[:len(p.Outputs)-1] {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(strconv.Itoa(out))
		}
		b.WriteByte('>')
		b.WriteString(strconv.Itoa(p.Outputs[len(p.Outputs)-1]))
	}
	b.WriteByte('.')

	return []byte(b.String()), nil
}

// DecodeResult implements Codec.
func (TextMatrix) DecodeResult(cmd *Command, data []byte) (*Result, error) {
	token := string(bytes.TrimSpace(data))

	switch {
	case token == "OK":
		return &Result{
			DeviceID:      cmd.DeviceID,
			CorrelationID: cmd.CorrelationID,
			OK:            true,
			Raw:           token,
		}, nil
	case token == "ERR":
		return &Result{
			DeviceID:      cmd.DeviceID,
			CorrelationID: cmd.CorrelationID,
			OK:            false,
			Detail:        "switcher rejected command",
			Raw:           token,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected matrix response %q", ErrProtocol, token)
	}
}

// DecodeReading implements Codec. Matrix switchers have no push telemetry.
func (TextMatrix) DecodeReading(string, []byte) (*Reading, error) {
	return nil, fmt.Errorf("%w: text matrix dialect has no telemetry", ErrProtocol)
}

// ResponseComplete implements Codec. The switcher replies with a bare
// token, optionally newline-terminated.
func (TextMatrix) ResponseComplete(buf []byte) bool {
	token := bytes.TrimSpace(buf)
	return bytes.Equal(token, []byte("OK")) || bytes.Equal(token, []byte("ERR"))
}
