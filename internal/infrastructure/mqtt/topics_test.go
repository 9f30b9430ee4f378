package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Control", topics.Control("d1", "set_volume"), "/devices/d1/controls/set_volume"},
		{"ControlOn", topics.ControlOn("d1", "power_on"), "/devices/d1/controls/power_on/on"},
		{"DeviceMeta", topics.DeviceMeta("d1"), "/devices/d1/meta"},
		{"ControlMeta", topics.ControlMeta("d1", "power_on"), "/devices/d1/controls/power_on/meta"},
		{"Availability", topics.Availability("d1"), "/devices/d1/meta/available"},
		{"DeviceState", topics.DeviceState("d1"), "/devices/d1/state"},
		{"AllControls", topics.AllControls(), "/devices/+/controls/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

// Every derived control topic is matched by the all-controls wildcard.
func TestTopicsMatchAllControls(t *testing.T) {
	topics := Topics{}
	for _, topic := range []string{
		topics.Control("d1", "x"),
		topics.ControlOn("d1", "x"),
		topics.ControlMeta("d1", "x"),
	} {
		assert.True(t, Matches(topics.AllControls(), topic), topic)
	}
}
