package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WebSocket timing defaults, used when the config is silent.
const (
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultMaxMessageSize = 512
	wsWriteTimeout        = 10 * time.Second
)

// handleTelemetryWS streams one device's telemetry readings over a
// WebSocket, one JSON reading per message.
//
// GET /api/v1/devices/{id}/telemetry
//
// The subscription uses a bounded buffer; a client that cannot keep up
// loses the oldest readings, never the connection.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.gateway.SubscribeTelemetry(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		sub.Close()
		s.logger.Warn("websocket upgrade failed", "device", id, "error", err)
		return
	}

	s.logger.Info("telemetry stream opened", "device", id, "remote", r.RemoteAddr)

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongTimeout := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}
	maxMessageSize := int64(s.wsCfg.MaxMessageSize)
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}

	// Read pump: clients never send data, but reading is how we learn
	// about closes and service pong frames.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		wsConn.SetReadLimit(maxMessageSize)
		//nolint:errcheck // Deadline errors surface on the next read
		wsConn.SetReadDeadline(time.Now().Add(pongTimeout))
		wsConn.SetPongHandler(func(string) error {
			return wsConn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		wsConn.Close() //nolint:errcheck // Best effort on teardown
		s.logger.Info("telemetry stream closed",
			"device", id,
			"dropped", sub.Dropped(),
		)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case reading, ok := <-sub.Readings():
			if !ok {
				// Hub shut down.
				return
			}
			//nolint:errcheck // Write error surfaces from WriteJSON
			wsConn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wsConn.WriteJSON(reading); err != nil {
				return
			}

		case <-ticker.C:
			//nolint:errcheck // Write error surfaces from WriteMessage
			wsConn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
