// Package mqtt is the bus client for devicehub.
//
// This package manages:
//   - The broker connection with a bounded, linear reconnect loop
//   - Topic subscriptions with "+" and "#" wildcard routing
//   - Publishing with a single deterministic payload encoding per type
//   - A service-level Last Will and per-owner offline markers (presence)
//
// # Architecture
//
// Devices never talk to the broker directly. Each device registers the
// topics it wants under its own owner ID, and the client routes every
// inbound message to all owners whose pattern matches:
//
//	Broker ↔ Client (subscription registry, presence registry) ↔ Devices
//
// Paho's automatic reconnect is disabled. The client's run loop retries
// with attempt × base delay up to a fixed attempt count, then settles in
// StateFailed until Connect is called again. Subscriptions are re-issued
// after every successful connect, never before.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(log)
//
//	err := client.Subscribe("amp-1", mqtt.Topics{}.Control("amp-1", "set_volume"), 0,
//	    func(msg mqtt.Message) error {
//	        log.Info("received", "topic", msg.Topic, "payload", msg.Payload)
//	        return nil
//	    })
//
//	if err := client.Connect(ctx, nil); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	client.Publish(mqtt.Topics{}.DeviceState("amp-1"), map[string]any{"volume": 42}, 0, true)
package mqtt
