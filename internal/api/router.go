package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway health snapshot
		r.Get("/health", s.handleHealth)

		// Device inventory and per-device operations
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/commands", s.handleExecuteCommand)
				r.Get("/telemetry", s.handleTelemetryWS)
			})
		})

		// IR code library
		r.Route("/ircodes", func(r chi.Router) {
			r.Get("/", s.handleListCodes)
			r.Post("/", s.handleCreateCode)
			r.Post("/send", s.handleSendCode)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCode)
				r.Put("/", s.handleUpdateCode)
				r.Delete("/", s.handleDeleteCode)
			})
		})
	})

	return r
}

// handleHealth returns the gateway health snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.gateway.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"gateway": h,
	})
}
