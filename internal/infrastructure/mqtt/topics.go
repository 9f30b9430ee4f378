package mqtt

import "fmt"

// Topic prefixes.
const (
	// TopicPrefixDevices is the base for all per-device topics.
	TopicPrefixDevices = "/devices"

	// DefaultStatusTopic carries the service online/offline status and the
	// connection's last will.
	DefaultStatusTopic = "devicehub/status"
)

// Topics provides builders for device topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Control("amp-1", "set_volume")
//	// Returns: "/devices/amp-1/controls/set_volume"
type Topics struct{}

// =============================================================================
// Control Topics
// =============================================================================

// Control returns the derived command topic for a command without an explicit topic.
//
// Example: /devices/amp-1/controls/set_volume
func (Topics) Control(deviceID, command string) string {
	return fmt.Sprintf("%s/%s/controls/%s", TopicPrefixDevices, deviceID, command)
}

// ControlOn returns the emulated write topic for a handler.
//
// Example: /devices/amp-1/controls/power_on/on
func (Topics) ControlOn(deviceID, handler string) string {
	return fmt.Sprintf("%s/%s/controls/%s/on", TopicPrefixDevices, deviceID, handler)
}

// AllControls returns a wildcard matching every control topic of every device.
func (Topics) AllControls() string {
	return TopicPrefixDevices + "/+/controls/#"
}

// =============================================================================
// Metadata and State Topics
// =============================================================================

// DeviceMeta returns the device metadata topic.
//
// Example: /devices/amp-1/meta
func (Topics) DeviceMeta(deviceID string) string {
	return fmt.Sprintf("%s/%s/meta", TopicPrefixDevices, deviceID)
}

// ControlMeta returns the metadata topic for a single emulated control.
//
// Example: /devices/amp-1/controls/power_on/meta
func (Topics) ControlMeta(deviceID, handler string) string {
	return fmt.Sprintf("%s/%s/controls/%s/meta", TopicPrefixDevices, deviceID, handler)
}

// Availability returns the per-device presence topic.
//
// Example: /devices/amp-1/meta/available
func (Topics) Availability(deviceID string) string {
	return fmt.Sprintf("%s/%s/meta/available", TopicPrefixDevices, deviceID)
}

// DeviceState returns the topic a device publishes its state snapshot on.
//
// Example: /devices/amp-1/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevices, deviceID)
}
