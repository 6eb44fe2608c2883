package eventbus

import "strings"

// Match reports whether topic matches pattern under the event fabric's topic
// grammar: a single-segment wildcard "*" and a trailing multi-segment
// wildcard ">" (which must be the pattern's last segment and absorbs every
// remaining topic segment). Matching is case-sensitive and segment-by-segment.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patternSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")

	for i, seg := range patternSegs {
		if seg == ">" {
			// ">" must be the last pattern segment and absorbs the rest.
			return i == len(patternSegs)-1 && i < len(topicSegs)
		}

		if i >= len(topicSegs) {
			return false
		}

		if seg == "*" {
			continue
		}

		if seg != topicSegs[i] {
			return false
		}
	}

	return len(patternSegs) == len(topicSegs)
}

// ValidTopic reports whether topic is a non-empty, well-formed dotted
// string with no empty segments.
func ValidTopic(topic string) bool {
	if topic == "" {
		return false
	}
	for _, seg := range strings.Split(topic, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// ValidPattern reports whether pattern is well-formed: no empty segments,
// and ">" (if present) only appears as the final segment.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if seg == "" {
			return false
		}
		if seg == ">" && i != len(segs)-1 {
			return false
		}
	}
	return true
}
