package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns the device inventory with live health.
//
// GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	health := s.gateway.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": health.Devices,
		"count":   len(health.Devices),
	})
}

// handleGetDevice returns one device's definition and health.
//
// GET /api/v1/devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.gateway.Device(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"device": d}
	for _, dh := range s.gateway.Health().Devices {
		if dh.ID == id {
			resp["health"] = dh
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
