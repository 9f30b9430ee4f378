package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on a topic pattern on behalf
// of an owner (typically a device ID).
//
// Patterns may use "+" and a trailing "#". Several owners may register the
// same pattern; each of their handlers fires for every matching message.
//
// Registration is always recorded. The broker subscription is issued now
// if the client is connected, otherwise after the next successful connect.
// If issuing fails the registration is rolled back.
//
// Example:
//
//	err := client.Subscribe("amp-1", mqtt.Topics{}.Control("amp-1", "set_volume"), 0,
//	    func(msg mqtt.Message) error {
//	        log.Printf("Received: %s = %s", msg.Topic, msg.Payload)
//	        return nil
//	    })
func (c *Client) Subscribe(ownerID, topic string, qos byte, handler MessageHandler) error {
	if err := ValidatePattern(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	isNew := c.subs.add(ownerID, topic, qos, handler)
	if !isNew {
		return nil
	}

	t := c.connectedTransport()
	if t == nil {
		return nil
	}

	if err := t.Subscribe(topic, qos); err != nil {
		c.subs.remove(ownerID, topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	return nil
}

// UnsubscribeOwner removes every handler registered by ownerID.
//
// Patterns left without any owner are unsubscribed at the broker when
// connected. Broker errors are returned but the local registrations are
// gone regardless.
func (c *Client) UnsubscribeOwner(ownerID string) error {
	emptied := c.subs.removeOwner(ownerID)
	if len(emptied) == 0 {
		return nil
	}

	t := c.connectedTransport()
	if t == nil {
		return nil
	}

	if err := t.Unsubscribe(emptied...); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of distinct subscribed patterns.
func (c *Client) SubscriptionCount() int {
	return c.subs.count()
}
