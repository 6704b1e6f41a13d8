package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/silverlink-av/avgate-core/internal/codec"
)

// WriteReading writes a single telemetry reading to InfluxDB.
//
// This is the primary method for recording device telemetry. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - r: The reading to record (device, channel, value, timestamp)
//
// Example:
//
//	client.WriteReading(codec.Reading{
//	    DeviceID: "dsp-main-bar", Channel: "level_main", Value: -12.5,
//	    Timestamp: time.Now(),
//	})
func (c *Client) WriteReading(r codec.Reading) {
	if !c.IsConnected() {
		return
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": r.DeviceID,
			"channel":   r.Channel,
		},
		map[string]interface{}{
			"value": r.Value,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WritePowerMetric writes a rack power measurement.
//
// Used for tracking the power draw of the AV rack as sampled from the
// energy meter.
//
// Parameters:
//   - deviceID: Meter identifier
//   - powerWatts: Current power draw in watts
//   - energyKWh: Cumulative energy consumption in kWh (0 if unknown)
func (c *Client) WritePowerMetric(deviceID string, powerWatts float64, energyKWh float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"power_watts": powerWatts,
	}
	if energyKWh > 0 {
		fields["energy_kwh"] = energyKWh
	}

	point := write.NewPoint(
		"power",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("gateway_stats",
//	    map[string]string{"site": "site-001"},
//	    map[string]interface{}{"queue_depth": 3, "breaker_trips": 1})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
