package event

import "strings"

// Topic pattern tokens. The dialect is the NATS one so that a pattern means the
// same thing on every backend; adapters translate it to their broker's syntax.
const (
	Separator      = "."
	WildcardSingle = "*"
	WildcardTail   = ">"
)

// MatchTopic reports whether topic is selected by pattern.
//
// A pattern equal to the topic always matches. Otherwise both are split on
// Separator and compared part by part, case-insensitively: "*" matches exactly
// one part and a trailing ">" matches one or more remaining parts. Part counts
// must agree unless the pattern ends with ">".
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	pp := strings.Split(pattern, Separator)
	tp := strings.Split(topic, Separator)

	for i, part := range pp {
		if part == WildcardTail && i == len(pp)-1 {
			return len(tp) > i
		}

		if i >= len(tp) {
			return false
		}

		if part != WildcardSingle && !strings.EqualFold(part, tp[i]) {
			return false
		}
	}

	return len(pp) == len(tp)
}

// ValidPattern reports whether pattern is usable as a subscription subject:
// non-empty and without empty parts.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}

	for _, part := range strings.Split(pattern, Separator) {
		if part == "" {
			return false
		}
	}

	return true
}

// Segments splits a topic or pattern into its parts.
func Segments(s string) []string { return strings.Split(s, Separator) }
