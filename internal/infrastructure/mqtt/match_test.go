package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/b/c", false},
		{"a/+", "a", false},
		{"+/+", "a/b", true},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/#", "b/c", false},
		{"#", "a/b/c", true},
		{"a/+/#", "a/b", true},
		{"a/+/#", "a/b/c/d", true},
		{"/devices/+/controls/#", "/devices/amp/controls/power/on", true},
		{"/devices/amp/controls/set_volume", "/devices/amp/controls/set_volume", true},
		{"/devices/amp/controls/set_volume", "/devices/amp/controls/set_volume/on", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.pattern, tt.topic))
		})
	}
}

// Without wildcards Matches is plain string equality.
func TestMatchesLiteralEquality(t *testing.T) {
	topics := []string{"a", "a/b", "a/b/c", "/lead", "trail/", "", "x//y"}
	for _, p := range topics {
		for _, tp := range topics {
			assert.Equal(t, p == tp, Matches(p, tp), "Matches(%q, %q)", p, tp)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"a/b", false},
		{"a/+/c", false},
		{"a/#", false},
		{"#", false},
		{"", true},
		{"a/#/c", true},
		{"a/b+/c", true},
		{"a/#b", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTopic(t *testing.T) {
	assert.NoError(t, ValidateTopic("/devices/a/state"))
	for _, topic := range []string{"", "a/+", "a/#"} {
		assert.ErrorIs(t, ValidateTopic(topic), ErrInvalidTopic, topic)
	}
}

func TestIsWildcard(t *testing.T) {
	assert.False(t, IsWildcard("a/b"))
	assert.False(t, IsWildcard("a/b+"))
	assert.True(t, IsWildcard("a/+"))
	assert.True(t, IsWildcard("a/#"))
}
