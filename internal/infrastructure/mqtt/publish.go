package mqtt

import (
	"fmt"
)

// Publish sends a message to the specified MQTT topic.
//
// The payload is converted with EncodePayload: strings and byte slices pass
// through, booleans become "true"/"false", numbers become decimal text and
// anything else is JSON encoded.
//
// Publish never blocks waiting for a connection. When the client is not
// connected it returns ErrNotConnected immediately and does not retry.
//
// Parameters:
//   - topic: Concrete topic to publish to (no wildcards)
//   - payload: Value to encode (max 1MB once encoded)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Example:
//
//	topic := mqtt.Topics{}.DeviceState("amp-1")
//	err := client.Publish(topic, map[string]any{"volume": 42}, 0, true)
func (c *Client) Publish(topic string, payload any, qos byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	if len(data) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(data), maxPayloadSize)
	}

	t := c.connectedTransport()
	if t == nil {
		return ErrNotConnected
	}

	if err := t.Publish(topic, qos, retained, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
