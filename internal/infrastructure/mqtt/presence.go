package mqtt

import "fmt"

// presence is one owner's offline marker.
type presence struct {
	topic   string
	payload []byte
}

// RegisterPresence records the offline marker an owner wants published when
// it goes away. Re-registering replaces the previous marker.
//
// Markers are published by RemovePresence and, for every owner still
// registered, by Disconnect. They are not broker-native wills: the broker
// only holds the single service-level will.
func (c *Client) RegisterPresence(ownerID, topic string, offlinePayload any) error {
	if ownerID == "" {
		return fmt.Errorf("%w: presence owner cannot be empty", ErrInvalidTopic)
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	data, err := EncodePayload(offlinePayload)
	if err != nil {
		return err
	}

	c.presenceMu.Lock()
	c.presence[ownerID] = presence{topic: topic, payload: data}
	c.presenceMu.Unlock()

	return nil
}

// RemovePresence drops an owner's registration and, when connected,
// publishes its offline marker retained.
//
// Removing an unknown owner is a no-op. When disconnected the marker is
// dropped without publishing.
func (c *Client) RemovePresence(ownerID string) error {
	c.presenceMu.Lock()
	p, ok := c.presence[ownerID]
	delete(c.presence, ownerID)
	c.presenceMu.Unlock()

	if !ok {
		return nil
	}

	t := c.connectedTransport()
	if t == nil {
		return nil
	}

	if err := t.Publish(p.topic, byte(c.cfg.QoS), true, p.payload); err != nil {
		return fmt.Errorf("%w: presence %s: %w", ErrPublishFailed, ownerID, err)
	}
	return nil
}

// PresenceCount returns the number of registered presence owners.
func (c *Client) PresenceCount() int {
	c.presenceMu.RLock()
	defer c.presenceMu.RUnlock()
	return len(c.presence)
}

// publishAllOffline publishes every registered offline marker on t.
// Registrations are kept so they apply again after a later Connect.
func (c *Client) publishAllOffline(t Transport) {
	c.presenceMu.RLock()
	markers := make(map[string]presence, len(c.presence))
	for owner, p := range c.presence {
		markers[owner] = p
	}
	c.presenceMu.RUnlock()

	for owner, p := range markers {
		if err := t.Publish(p.topic, byte(c.cfg.QoS), true, p.payload); err != nil {
			c.getLogger().Warn("MQTT presence offline publish failed",
				"owner", owner,
				"topic", p.topic,
				"error", err,
			)
		}
	}
}
