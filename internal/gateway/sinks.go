package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/silverlink-av/avgate-core/internal/codec"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/influxdb"
	"github.com/silverlink-av/avgate-core/internal/infrastructure/mqtt"
)

// MQTTSink republishes telemetry readings onto the broker, one topic
// per device channel. Implements telemetry.Sink.
type MQTTSink struct {
	client *mqtt.Client
	qos    byte
}

// NewMQTTSink wraps an MQTT client as a telemetry sink.
func NewMQTTSink(client *mqtt.Client, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

// Name labels the sink in logs and stats.
func (s *MQTTSink) Name() string { return "mqtt" }

// WriteReading publishes one reading to avgate/telemetry/{device}/{channel}.
func (s *MQTTSink) WriteReading(_ context.Context, r codec.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding reading: %w", err)
	}
	topic := mqtt.Topics{}.Telemetry(r.DeviceID, r.Channel)
	return s.client.Publish(topic, payload, s.qos, false)
}

// InfluxSink records telemetry readings into InfluxDB. Implements
// telemetry.Sink.
type InfluxSink struct {
	client *influxdb.Client
}

// NewInfluxSink wraps an InfluxDB client as a telemetry sink.
func NewInfluxSink(client *influxdb.Client) *InfluxSink {
	return &InfluxSink{client: client}
}

// Name labels the sink in logs and stats.
func (s *InfluxSink) Name() string { return "influxdb" }

// WriteReading batches one reading into the write API. The underlying
// write is non-blocking; batch errors surface via the client's error
// callback, not here.
func (s *InfluxSink) WriteReading(_ context.Context, r codec.Reading) error {
	s.client.WriteReading(r)
	return nil
}
