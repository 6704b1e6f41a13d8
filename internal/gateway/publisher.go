package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/silverlink-av/avgate-core/internal/infrastructure/mqtt"
)

// defaultHealthInterval is how often the health snapshot is published
// when the config does not say otherwise.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher periodically publishes the gateway health snapshot
// and per-device state to MQTT.
type HealthPublisher struct {
	gw       *Gateway
	client   *mqtt.Client
	interval time.Duration
	logger   Logger

	// lastStates tracks the previously published per-device state so
	// state topics only see changes.
	lastStates map[string]string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHealthPublisher creates a publisher; call Run to start it.
func NewHealthPublisher(gw *Gateway, client *mqtt.Client, interval time.Duration, logger Logger) *HealthPublisher {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthPublisher{
		gw:         gw,
		client:     client,
		interval:   interval,
		logger:     logger,
		lastStates: make(map[string]string),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run publishes snapshots until Close is called. Blocks; run it in a
// goroutine.
func (p *HealthPublisher) Run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First snapshot immediately so dashboards don't wait a full tick.
	p.publish()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.publish()
		}
	}
}

// publish sends the health snapshot and any device state changes.
func (p *HealthPublisher) publish() {
	h := p.gw.Health()

	payload, err := json.Marshal(h)
	if err != nil {
		p.logger.Error("encoding health snapshot", "error", err)
		return
	}

	topics := mqtt.Topics{}
	if err := p.client.Publish(topics.Health(), payload, 1, true); err != nil {
		p.logger.Warn("publishing health snapshot", "error", err)
	}

	for _, d := range h.Devices {
		state := string(d.State)
		if p.lastStates[d.ID] == state {
			continue
		}
		p.lastStates[d.ID] = state

		body, err := json.Marshal(map[string]string{
			"device_id": d.ID,
			"state":     state,
		})
		if err != nil {
			continue
		}
		if err := p.client.Publish(topics.DeviceState(d.ID), body, 1, true); err != nil {
			p.logger.Warn("publishing device state", "device", d.ID, "error", err)
		}
	}
}

// Close stops the publisher and waits for the loop to exit.
func (p *HealthPublisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}
