// Package mqtt provides MQTT client connectivity for the AV gateway.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The gateway publishes telemetry readings, command results and health
// snapshots onto MQTT so control processors, dashboards and recording
// systems can observe the AV estate without holding device sockets of
// their own.
//
//	AV Gateway → MQTT Broker → Control processors / dashboards
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all telemetry readings
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command result
//	topic := mqtt.Topics{}.CommandResult("matrix-rack")
//	client.Publish(topic, []byte(`{"ok":true}`), 1, false)
package mqtt
