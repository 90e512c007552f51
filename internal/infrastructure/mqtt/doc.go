// Package mqtt provides MQTT client connectivity for Pixelgrid Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Pixelgrid uses MQTT as the command bus for the display fleet. Commands
// arrive from wall panels, automations, and the admin UI; Core publishes
// scene state, per-frame metrics, and structured errors back to the bus.
//
//	Producers (panels, automations, UI) ↔ MQTT Broker ↔ Pixelgrid Core ↔ Display drivers
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
//	topics := mqtt.NewTopics("pixelgrid")
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device commands
//	err = client.Subscribe(topics.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish scene state (retained so late subscribers see it)
//	client.Publish(topics.SceneState("lobby-matrix"), payload, 1, true)
package mqtt
