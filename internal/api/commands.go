package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

// maxCommandRetries caps client-requested retry counts.
const maxCommandRetries = 5

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	// Payload is the dialect-specific command body, passed to the
	// device's codec untouched.
	Payload json.RawMessage `json:"payload"`

	// CorrelationID is optional; one is generated when absent.
	CorrelationID string `json:"correlation_id"`

	// TimeoutMs overrides the device's exchange timeout.
	TimeoutMs int `json:"timeout_ms"`

	// MaxRetries is the number of additional attempts after an I/O
	// failure. Capped at 5.
	MaxRetries int `json:"max_retries"`

	// Idempotent marks the command safe to re-send after a failure
	// that may have occurred mid-exchange.
	Idempotent bool `json:"idempotent"`
}

// handleExecuteCommand queues a command on the device's worker and
// waits for the result.
//
// POST /api/v1/devices/{id}/commands
//
// A device-reported rejection (ok=false in the result) is still HTTP
// 200: the exchange round-tripped fine. Transport and protocol
// failures map to 5xx, see writeDomainError.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.Payload) == 0 {
		writeBadRequest(w, "payload is required")
		return
	}
	if req.MaxRetries < 0 || req.MaxRetries > maxCommandRetries {
		writeBadRequest(w, "max_retries out of range")
		return
	}
	if req.TimeoutMs < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	cmd := &codec.Command{
		DeviceID:      id,
		CorrelationID: correlationID,
		Payload:       req.Payload,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxRetries:    req.MaxRetries,
		Idempotent:    req.Idempotent,
	}

	result, err := s.gateway.Execute(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away or request deadline hit while queued.
			writeError(w, http.StatusGatewayTimeout, ErrCodeDeviceTimeout, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
