package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/ircode"
)

// sendCodeTimeout bounds firing a stored code through a blaster.
const sendCodeTimeout = 10 * time.Second

// requireCodes guards the IR endpoints when no store is configured.
func (s *Server) requireCodes(w http.ResponseWriter) bool {
	if s.codes == nil {
		writeNotFound(w, "ir code library is not enabled")
		return false
	}
	return true
}

// handleListCodes lists stored IR codes, optionally for one device.
//
// GET /api/v1/ircodes?device_id=tv-lounge
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	codes, err := s.codes.List(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"codes": codes,
		"count": len(codes),
	})
}

// handleCreateCode stores a new IR code.
//
// POST /api/v1/ircodes
func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	var code ircode.Code
	if err := json.NewDecoder(r.Body).Decode(&code); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	created, err := s.codes.Create(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetCode returns one stored code.
//
// GET /api/v1/ircodes/{id}
func (s *Server) handleGetCode(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	code, err := s.codes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

// handleUpdateCode replaces a code's text and description.
//
// PUT /api/v1/ircodes/{id}
func (s *Server) handleUpdateCode(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	var code ircode.Code
	if err := json.NewDecoder(r.Body).Decode(&code); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	code.ID = chi.URLParam(r, "id")

	updated, err := s.codes.Update(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteCode removes a stored code.
//
// DELETE /api/v1/ircodes/{id}
func (s *Server) handleDeleteCode(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	if err := s.codes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendCodeRequest is the body of POST /ircodes/send.
type sendCodeRequest struct {
	// BlasterID is the IR emitter that transmits the code.
	BlasterID string `json:"blaster_id"`

	// DeviceID and Function select the stored code (the IR target).
	DeviceID string `json:"device_id"`
	Function string `json:"function"`
}

// handleSendCode fires a stored code through a blaster.
//
// POST /api/v1/ircodes/send
func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	if !s.requireCodes(w) {
		return
	}

	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.BlasterID == "" || req.DeviceID == "" || req.Function == "" {
		writeBadRequest(w, "blaster_id, device_id and function are required")
		return
	}

	code, err := s.codes.GetByFunction(r.Context(), req.DeviceID, req.Function)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payload, err := json.Marshal(map[string]string{"code": code.Code})
	if err != nil {
		writeInternalError(w, fmt.Sprintf("encoding ir payload: %v", err))
		return
	}

	cmd := &codec.Command{
		DeviceID:      req.BlasterID,
		CorrelationID: uuid.NewString(),
		Payload:       payload,
		Timeout:       sendCodeTimeout,
		Idempotent:    true, // IR sends repeat safely
	}

	result, err := s.gateway.Execute(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
