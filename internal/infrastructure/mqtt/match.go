package mqtt

import (
	"fmt"
	"strings"
)

// Wildcard segments.
const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
)

// Matches reports whether a subscription pattern matches a concrete topic.
//
// Both strings are split on "/" and walked segment by segment:
//   - "+" consumes exactly one topic segment of any value
//   - "#" consumes every remaining topic segment, including none when it
//     follows a matched parent ("a/#" matches "a")
//   - any other segment must equal the topic segment exactly
//
// A pattern that runs out before the topic, or a topic that runs out before
// the pattern, does not match.
func Matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, seg := range p {
		if seg == wildcardMulti {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if seg != wildcardSingle && seg != t[i] {
			return false
		}
	}

	return len(p) == len(t)
}

// IsWildcard reports whether a pattern contains any wildcard segment.
func IsWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == wildcardSingle || seg == wildcardMulti {
			return true
		}
	}
	return false
}

// ValidatePattern checks that a subscription pattern is well formed.
// "#" may only appear as the final segment and wildcard characters may not
// be mixed with other text inside a segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidTopic)
	}

	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		switch {
		case seg == wildcardMulti:
			if i != len(segs)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last segment", ErrInvalidTopic, pattern)
			}
		case seg == wildcardSingle:
		case strings.ContainsAny(seg, "+#"):
			return fmt.Errorf("%w: %q: wildcard must occupy a whole segment", ErrInvalidTopic, pattern)
		}
	}

	return nil
}

// ValidateTopic checks that a concrete publish topic is non-empty and has no wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q: wildcards are not allowed when publishing", ErrInvalidTopic, topic)
	}
	return nil
}
