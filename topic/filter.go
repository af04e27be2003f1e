// Package topic provides MQTT topic filter compilation and matching.
//
// Filters follow MQTT wildcard semantics: `+` matches exactly one topic
// level (including an empty level), `#` matches zero or more trailing
// levels and is only legal as the final level. Filters whose first level
// is a wildcard never match reserved topics (first level starting with
// `$`), mirroring broker-side convention.
package topic

import (
	"fmt"
	"strings"

	"github.com/legout/flowerpower-mqtt/errors"
)

const (
	// Separator is the topic level separator
	Separator = "/"
	// SingleWildcard matches exactly one topic level
	SingleWildcard = "+"
	// MultiWildcard matches zero or more trailing topic levels
	MultiWildcard = "#"
	// reservedPrefix marks broker-internal topics ($SYS and friends)
	reservedPrefix = "$"
)

// Filter is a compiled MQTT topic filter. A Filter is created once by
// Compile and is immutable afterwards; Matches is a pure function and is
// safe for concurrent use.
type Filter struct {
	raw      string
	segments []string
	wildcard bool // true when any segment is + or #
}

// Compile parses pattern into a Filter. It returns ErrInvalidFilter when
// the pattern is empty, when `#` appears anywhere but the last level, or
// when `+`/`#` share a level with other characters (MQTT forbids `a+/b`;
// a wildcard must occupy the whole level).
func Compile(pattern string) (Filter, error) {
	if pattern == "" {
		return Filter{}, errors.WrapInvalid(
			errors.ErrInvalidFilter, "Filter", "Compile", "empty pattern")
	}

	segments := strings.Split(pattern, Separator)
	wildcard := false

	for i, seg := range segments {
		switch {
		case seg == MultiWildcard:
			if i != len(segments)-1 {
				return Filter{}, errors.WrapInvalid(
					fmt.Errorf("%w: %q has '#' before the final level", errors.ErrInvalidFilter, pattern),
					"Filter", "Compile", "multi-level wildcard placement")
			}
			wildcard = true
		case seg == SingleWildcard:
			wildcard = true
		case strings.Contains(seg, SingleWildcard) || strings.Contains(seg, MultiWildcard):
			return Filter{}, errors.WrapInvalid(
				fmt.Errorf("%w: %q mixes wildcard and literal characters in one level", errors.ErrInvalidFilter, pattern),
				"Filter", "Compile", "wildcard segment validation")
		}
	}

	return Filter{raw: pattern, segments: segments, wildcard: wildcard}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level filter declarations.
func MustCompile(pattern string) Filter {
	f, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Raw returns the original pattern the filter was compiled from.
func (f Filter) Raw() string { return f.raw }

// HasWildcard reports whether the filter contains any wildcard level.
func (f Filter) HasWildcard() bool { return f.wildcard }

// String implements fmt.Stringer.
func (f Filter) String() string { return f.raw }

// Matches reports whether topic matches the filter. Matching is
// deterministic and has no side effects.
func (f Filter) Matches(topic string) bool {
	if f.raw == "" || topic == "" {
		return false
	}

	levels := strings.Split(topic, Separator)

	// Reserved topics must never be caught by a leading wildcard.
	if strings.HasPrefix(levels[0], reservedPrefix) {
		if first := f.segments[0]; first == SingleWildcard || first == MultiWildcard {
			return false
		}
	}

	for i, seg := range f.segments {
		if seg == MultiWildcard {
			// Final level by construction; consumes all remaining
			// topic levels, including zero.
			return true
		}
		if i >= len(levels) {
			return false
		}
		if seg == SingleWildcard {
			continue
		}
		if seg != levels[i] {
			return false
		}
	}

	return len(levels) == len(f.segments)
}
