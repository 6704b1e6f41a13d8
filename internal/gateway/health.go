package gateway

import (
	"sort"
	"time"

	"github.com/silverlink-av/avgate-core/internal/breaker"
	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/conn"
	"github.com/silverlink-av/avgate-core/internal/device"
	"github.com/silverlink-av/avgate-core/internal/queue"
	"github.com/silverlink-av/avgate-core/internal/telemetry"
)

// DeviceHealth is the per-device slice of a health snapshot.
type DeviceHealth struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Transport device.Transport `json:"transport"`
	Dialect   codec.Dialect    `json:"dialect"`
	State     device.State     `json:"state"`
	ConnState conn.State       `json:"conn_state"`
	Breaker   breaker.Stats    `json:"breaker"`
	Queue     queue.Stats      `json:"queue"`
}

// Health is a point-in-time snapshot of the whole gateway, suitable for
// the HTTP health endpoint and the periodic MQTT health publish.
type Health struct {
	SiteID        string          `json:"site_id"`
	Timestamp     time.Time       `json:"timestamp"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Devices       []DeviceHealth  `json:"devices"`
	Telemetry     telemetry.Stats `json:"telemetry"`
}

// Health returns the current snapshot, devices sorted by ID.
func (g *Gateway) Health() Health {
	g.mu.RLock()
	runtimes := make([]*runtime, 0, len(g.runtimes))
	for _, rt := range g.runtimes {
		runtimes = append(runtimes, rt)
	}
	g.mu.RUnlock()

	h := Health{
		SiteID:        g.cfg.Site.ID,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(g.started).Seconds()),
		Devices:       make([]DeviceHealth, 0, len(runtimes)),
	}
	if g.hub != nil {
		h.Telemetry = g.hub.Stats()
	}

	for _, rt := range runtimes {
		cs := rt.worker.ConnState()
		h.Devices = append(h.Devices, DeviceHealth{
			ID:        rt.device.ID,
			Name:      rt.device.Name,
			Transport: rt.device.Transport,
			Dialect:   rt.device.Dialect,
			State:     deviceState(cs),
			ConnState: cs,
			Breaker:   rt.breaker.Snapshot(),
			Queue:     rt.worker.Stats(),
		})
	}

	sort.Slice(h.Devices, func(i, j int) bool {
		return h.Devices[i].ID < h.Devices[j].ID
	})
	return h
}

// deviceState collapses the connection lifecycle into the coarse state
// reported on dashboards. Idle is "unknown" rather than "disconnected"
// because connections are lazy: an idle device may simply never have
// been commanded.
func deviceState(s conn.State) device.State {
	switch s {
	case conn.StateOpen:
		return device.StateConnected
	case conn.StateIdle:
		return device.StateUnknown
	default:
		return device.StateDisconnected
	}
}
