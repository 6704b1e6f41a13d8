// Package gateway assembles the per-device command runtimes.
//
// For every device in the registry the gateway owns one connection, one
// circuit breaker and one queue worker. Commands are submitted by device
// ID and execute strictly in FIFO order per device; devices never share
// a socket or a queue.
//
// The gateway is also the integration point for the outer surfaces: it
// exposes health snapshots for the API and MQTT publishers, forwards
// telemetry subscriptions to the hub, and reconciles runtimes when the
// device inventory changes on config reload.
package gateway
