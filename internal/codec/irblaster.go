package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IRBlaster implements the Global Caché style sendir dialect.
//
// Command payload shape, either structured:
//
//	{"module": 1, "connector": 1, "id": 1, "frequency": 37764,
//	 "repeat": 1, "offset": 1, "data": [342, 171, 21, 83, ...]}
//
// or a raw pre-learned code:
//
//	{"code": "sendir,1:1,1,37764,1,1,342,171,21,83,..."}
//
// Either form passes through ValidateSendIR before transmission; truncated
// captures never reach the wire (and never reach the code library, see the
// ircode package).
type IRBlaster struct{}

// irPayload is the caller-facing command payload.
type irPayload struct {
	Module    int    `json:"module"`
	Connector int    `json:"connector"`
	ID        int    `json:"id"`
	Frequency int    `json:"frequency"`
	Repeat    int    `json:"repeat"`
	Offset    int    `json:"offset"`
	Data      []int  `json:"data"`
	Code      string `json:"code"`
}

// sendirHeaderFields is the number of comma-separated fields between the
// "sendir" keyword and the numeric segments: <module:connector> and <id>.
const sendirHeaderFields = 2

// minSendIRSegments is the minimum number of numeric segments a complete
// code must carry after the header: frequency, repeat, offset and at least
// three timing values.
const minSendIRSegments = 6

// Dialect implements Codec.
func (IRBlaster) Dialect() Dialect { return DialectIRBlaster }

// Encode implements Codec.
func (IRBlaster) Encode(cmd *Command) ([]byte, error) {
	var p irPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	code := p.Code
	if code == "" {
		code = buildSendIR(p)
	}

	if err := ValidateSendIR(code); err != nil {
		return nil, err
	}

	return append([]byte(code), '\r'), nil
}

// buildSendIR renders the structured payload form into a sendir string.
func buildSendIR(p irPayload) string {
	var b strings.Builder
	b.WriteString("sendir,")
	b.WriteString(strconv.Itoa(p.Module))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(p.Connector))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(p.ID))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(p.Frequency))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(p.Repeat))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(p.Offset))
	for _, d := range p.Data {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(d))
	}
	return b.String()
}

// ValidateSendIR checks that a sendir code is complete and safe to
// transmit or persist.
//
// A code is complete iff it carries at least six comma-separated numeric
// segments after the "sendir,<module:connector>,<id>" header and its final
// character is a digit. IR learning captures are frequently cut short by
// the capture window closing; a truncated burst pattern would flash garbage
// at the hardware, so incomplete codes are rejected here, before
// transmission and before persistence.
func ValidateSendIR(code string) error {
	if !strings.HasPrefix(code, "sendir,") {
		return fmt.Errorf("%w: missing sendir header", ErrIncompleteCode)
	}
	if !isDigit(code[len(code)-1]) {
		return fmt.Errorf("%w: code does not end in a digit", ErrIncompleteCode)
	}

	fields := strings.Split(code, ",")
	// "sendir" + header fields + numeric segments.
	segments := len(fields) - 1 - sendirHeaderFields
	if segments < minSendIRSegments {
		return fmt.Errorf("%w: %d numeric segments, need at least %d",
			ErrIncompleteCode, segments, minSendIRSegments)
	}

	for _, seg := range fields[1+sendirHeaderFields:] {
		if _, err := strconv.Atoi(seg); err != nil {
			return fmt.Errorf("%w: non-numeric segment %q", ErrIncompleteCode, seg)
		}
	}

	return nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// DecodeResult implements Codec.
//
// The blaster acknowledges with "completeir" or reports "ERR_<n>:<detail>".
func (IRBlaster) DecodeResult(cmd *Command, data []byte) (*Result, error) {
	token := string(bytes.TrimSpace(data))

	switch {
	case strings.HasPrefix(token, "completeir"):
		return &Result{
			DeviceID:      cmd.DeviceID,
			CorrelationID: cmd.CorrelationID,
			OK:            true,
			Raw:           token,
		}, nil
	case strings.HasPrefix(token, "ERR_"):
		detail := token
		if _, after, found := strings.Cut(token, ":"); found {
			detail = after
		}
		return &Result{
			DeviceID:      cmd.DeviceID,
			CorrelationID: cmd.CorrelationID,
			OK:            false,
			Detail:        detail,
			Raw:           token,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected blaster response %q", ErrProtocol, token)
	}
}

// DecodeReading implements Codec. IR blasters have no push telemetry.
func (IRBlaster) DecodeReading(string, []byte) (*Reading, error) {
	return nil, fmt.Errorf("%w: ir blaster dialect has no telemetry", ErrProtocol)
}

// ResponseComplete implements Codec.
func (IRBlaster) ResponseComplete(buf []byte) bool {
	token := bytes.TrimSpace(buf)
	if bytes.HasPrefix(token, []byte("completeir")) {
		return true
	}
	// ERR_<n>:<detail> is complete once the detail separator has arrived.
	return bytes.HasPrefix(token, []byte("ERR_")) && bytes.ContainsRune(token, ':')
}
