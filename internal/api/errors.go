package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/silverlink-av/avgate-core/internal/breaker"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
	"github.com/silverlink-av/avgate-core/internal/device"
	"github.com/silverlink-av/avgate-core/internal/gateway"
	"github.com/silverlink-av/avgate-core/internal/ircode"
	"github.com/silverlink-av/avgate-core/internal/queue"
	"github.com/silverlink-av/avgate-core/internal/telemetry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeQueueFull      = "queue_full"
	ErrCodeCircuitOpen    = "circuit_open"
	ErrCodeDeviceError    = "device_protocol_error"
	ErrCodeDeviceTimeout  = "device_timeout"
	ErrCodeIncompleteCode = "incomplete_ir_code"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeInternal       = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps gateway errors onto HTTP statuses:
//
//	device unknown          -> 404
//	queue at capacity       -> 429
//	circuit open            -> 503
//	gateway shutting down   -> 503
//	exchange timeout        -> 504
//	protocol error          -> 502
//	incomplete IR code      -> 422
//	malformed payload       -> 400
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, ircode.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, telemetry.ErrNoTelemetry):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, ircode.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, ErrCodeQueueFull, err.Error())
	case errors.Is(err, breaker.ErrOpen):
		writeError(w, http.StatusServiceUnavailable, ErrCodeCircuitOpen, err.Error())
	case errors.Is(err, gateway.ErrClosed), errors.Is(err, queue.ErrClosed),
		errors.Is(err, telemetry.ErrHubClosed), errors.Is(err, conn.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, conn.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceTimeout, err.Error())
	case errors.Is(err, conn.ErrIO):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
	case errors.Is(err, codec.ErrProtocol):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
	case errors.Is(err, codec.ErrIncompleteCode):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeIncompleteCode, err.Error())
	case errors.Is(err, codec.ErrInvalidPayload), errors.Is(err, ircode.ErrInvalid),
		errors.Is(err, queue.ErrAlreadyConsumed):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
