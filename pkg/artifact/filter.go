// Package artifact selects and downloads the CI artifacts worth parsing.
package artifact

import (
	"strings"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects candidate artifacts by expiry, size and name.
type Filter struct {
	maxSize  int64
	patterns []string
}

// NewFilter returns a Filter accepting artifacts up to maxSize bytes whose name matches a pattern.
func NewFilter(maxSize int64, patterns []string) *Filter {
	return &Filter{maxSize: maxSize, patterns: patterns}
}

// Select returns the artifacts worth downloading. A non empty override replaces the configured patterns.
func (f *Filter) Select(artifacts []*core.Artifact, override []string) []*core.Artifact {
	patterns := f.patterns
	if len(override) > 0 {
		patterns = override
	}
	selected := make([]*core.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a == nil || a.Expired {
			continue
		}
		if a.SizeBytes <= 0 || (f.maxSize > 0 && a.SizeBytes > f.maxSize) {
			continue
		}
		if !MatchAny(a.Name, patterns) {
			continue
		}
		selected = append(selected, a)
	}
	return selected
}

// MatchAny reports whether name matches any pattern, an empty pattern list matches everything.
// Patterns with glob metacharacters are matched as doublestar globs, others as substrings.
// Matching is case-insensitive.
func MatchAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if Match(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Match matches a single lower-cased name against a lower-cased pattern.
func Match(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return strings.Contains(name, pattern)
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
