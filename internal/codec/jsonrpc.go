package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JSONRPC implements the JSON-RPC 2.0 style dialect spoken by audio DSP
// zone processors.
//
// Command payload shape:
//
//	{"method": "set", "param": "ZoneVolume_0", "value": -20.5}
//	{"method": "get", "param": "ZoneName_0"}
//
// String values are sent in the "str" member and everything else in "val",
// matching the firmware's parameter convention. Frames are terminated with
// CRLF.
type JSONRPC struct{}

// jsonRPCVersion is the fixed version member of every frame.
const jsonRPCVersion = "2.0"

// rpcPayload is the caller-facing command payload.
type rpcPayload struct {
	Method string `json:"method"`
	Param  string `json:"param"`
	Value  any    `json:"value,omitempty"`
}

// rpcParams is the wire shape of the params member.
type rpcParams struct {
	Param string `json:"param"`
	Val   any    `json:"val,omitempty"`
	Str   *string `json:"str,omitempty"`
}

// rpcRequest is the wire shape of an outgoing frame.
type rpcRequest struct {
	Version string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

// rpcError is the wire shape of the error member.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the wire shape of an incoming response frame.
type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      any             `json:"id"`
}

// rpcResultParam is the inner result object carrying the parameter.
type rpcResultParam struct {
	Param string          `json:"param"`
	Val   json.RawMessage `json:"val"`
	Str   *string         `json:"str"`
}

// Dialect implements Codec.
func (JSONRPC) Dialect() Dialect { return DialectJSONRPC }

// Encode implements Codec.
func (JSONRPC) Encode(cmd *Command) ([]byte, error) {
	var p rpcPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidPayload)
	}
	if p.Param == "" {
		return nil, fmt.Errorf("%w: param is required", ErrInvalidPayload)
	}

	params := rpcParams{Param: p.Param}
	switch v := p.Value.(type) {
	case nil:
		// Read-style command, no value member.
	case string:
		params.Str = &v
	default:
		params.Val = v
	}

	frame, err := json.Marshal(rpcRequest{
		Version: jsonRPCVersion,
		Method:  p.Method,
		Params:  params,
		ID:      cmd.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return append(frame, '\r', '\n'), nil
}

// DecodeResult implements Codec.
//
// The firmware is inconsistent about the result shape: depending on version
// it returns either a single object or a single-element array wrapping that
// object. Both normalise to exactly one canonical Param here; downstream
// code never re-checks the shape.
func (JSONRPC) DecodeResult(cmd *Command, data []byte) (*Result, error) {
	var resp rpcResponse
	if err := json.Unmarshal(bytes.TrimSpace(data), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ErrProtocol, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: device error %d: %s",
			ErrProtocol, resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("%w: response has neither result nor error", ErrProtocol)
	}

	param, err := normalizeResult(resp.Result)
	if err != nil {
		return nil, err
	}

	return &Result{
		DeviceID:      cmd.DeviceID,
		CorrelationID: cmd.CorrelationID,
		Param:         param,
		OK:            true,
		Raw:           string(bytes.TrimSpace(data)),
	}, nil
}

// normalizeResult resolves the object-vs-array ambiguity of the result
// member into one canonical Param.
func normalizeResult(raw json.RawMessage) (*Param, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrProtocol)
	}

	switch trimmed[0] {
	case '{':
		var rp rpcResultParam
		if err := json.Unmarshal(trimmed, &rp); err != nil {
			return nil, fmt.Errorf("%w: result object: %w", ErrProtocol, err)
		}
		return resultParamToParam(rp)
	case '[':
		var list []rpcResultParam
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: result array: %w", ErrProtocol, err)
		}
		if len(list) != 1 {
			return nil, fmt.Errorf("%w: result array has %d elements, want 1",
				ErrProtocol, len(list))
		}
		return resultParamToParam(list[0])
	default:
		return nil, fmt.Errorf("%w: result is neither object nor array", ErrProtocol)
	}
}

// resultParamToParam extracts the canonical value, preferring the string
// member when present.
func resultParamToParam(rp rpcResultParam) (*Param, error) {
	if rp.Param == "" {
		return nil, fmt.Errorf("%w: result missing param name", ErrProtocol)
	}
	if rp.Str != nil {
		return &Param{Name: rp.Param, Value: *rp.Str}, nil
	}
	if len(rp.Val) > 0 {
		var v any
		if err := json.Unmarshal(rp.Val, &v); err != nil {
			return nil, fmt.Errorf("%w: result val: %w", ErrProtocol, err)
		}
		return &Param{Name: rp.Param, Value: v}, nil
	}
	return nil, fmt.Errorf("%w: result has neither val nor str", ErrProtocol)
}

// DecodeReading implements Codec.
//
// DSP processors push periodic meter notifications over UDP with the same
// params convention as responses:
//
//	{"jsonrpc":"2.0","method":"meter","params":{"param":"ZoneLevel_1","val":-12.5}}
func (JSONRPC) DecodeReading(deviceID string, data []byte) (*Reading, error) {
	var frame struct {
		Method string `json:"method"`
		Params rpcResultParam `json:"params"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &frame); err != nil {
		return nil, fmt.Errorf("%w: malformed reading: %w", ErrProtocol, err)
	}
	if frame.Params.Param == "" {
		return nil, fmt.Errorf("%w: reading missing param name", ErrProtocol)
	}

	var value float64
	if len(frame.Params.Val) > 0 {
		if err := json.Unmarshal(frame.Params.Val, &value); err != nil {
			return nil, fmt.Errorf("%w: reading val is not numeric: %w", ErrProtocol, err)
		}
	}

	return &Reading{
		DeviceID:  deviceID,
		Channel:   frame.Params.Param,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ResponseComplete implements Codec. JSON-RPC frames end with a newline.
func (JSONRPC) ResponseComplete(buf []byte) bool {
	return bytes.HasSuffix(buf, []byte("\n"))
}
