package mqtt

import "fmt"

// Topic prefixes for the AV gateway MQTT hierarchy.
//
// All topics use the flat scheme: avgate/{category}/{device_or_id}
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "avgate"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "avgate/system"
)

// Topics provides builders for gateway MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.Telemetry("dsp-main-bar", "level_main")
//	// Returns: "avgate/telemetry/dsp-main-bar/level_main"
type Topics struct{}

// Telemetry returns the topic for one device channel's readings.
//
// Example: avgate/telemetry/dsp-main-bar/level_main
func (Topics) Telemetry(deviceID, channel string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, deviceID, channel)
}

// CommandResult returns the topic for command outcomes per device.
//
// Example: avgate/result/matrix-rack
func (Topics) CommandResult(deviceID string) string {
	return fmt.Sprintf("%s/result/%s", TopicPrefix, deviceID)
}

// DeviceState returns the topic for device connection state changes.
//
// Example: avgate/device/dsp-main-bar/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefix, deviceID)
}

// Health returns the topic for the periodic gateway health snapshot.
//
// Example: avgate/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the system status topic (online/offline, LWT).
//
// Example: avgate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: avgate/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllTelemetry returns a pattern matching every telemetry reading.
//
// Pattern: avgate/telemetry/+/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+/+", TopicPrefix)
}

// DeviceTelemetry returns a pattern matching all channels of one device.
//
// Pattern: avgate/telemetry/dsp-main-bar/+
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s/+", TopicPrefix, deviceID)
}

// AllCommandResults returns a pattern matching every command outcome.
//
// Pattern: avgate/result/+
func (Topics) AllCommandResults() string {
	return fmt.Sprintf("%s/result/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all device state changes.
//
// Pattern: avgate/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefix)
}

// AllTopics returns a pattern matching all gateway topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: avgate/#
func (Topics) AllTopics() string {
	return "avgate/#"
}
