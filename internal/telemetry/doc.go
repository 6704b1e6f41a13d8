// Package telemetry fans device readings out to subscribers and sinks.
//
// Devices push meter readings as UDP datagrams. The hub owns one
// listener per device, created when the first subscriber for that device
// appears and torn down when the last one leaves, so idle devices cost
// no sockets. Decoded readings flow to every subscriber of the device
// and to every registered sink (MQTT, InfluxDB, energy dashboards).
//
// Delivery is lossy by design: each subscriber gets a bounded buffer and
// a slow consumer loses the oldest readings first. A stalled dashboard
// can never back-pressure the listener loop or other subscribers.
package telemetry
