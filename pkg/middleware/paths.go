package middleware

import (
	"fmt"
	"path"
	"strings"
)

// PathMatcher matches request paths against an ordered list of ANT-style
// patterns. "*" matches within one segment and a trailing "/**" matches the
// prefix and everything below it.
type PathMatcher struct {
	patterns []pathPattern
}

type pathPattern struct {
	raw      string
	segments []string
	subtree  bool
}

// NewPathMatcher compiles the patterns once
func NewPathMatcher(patterns []string) (*PathMatcher, error) {
	m := &PathMatcher{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(raw, "/") {
			return nil, fmt.Errorf("path pattern %q must start with /", raw)
		}

		p := pathPattern{raw: raw}
		trimmed := raw
		if strings.HasSuffix(trimmed, "/**") {
			p.subtree = true
			trimmed = strings.TrimSuffix(trimmed, "/**")
		}
		p.segments = splitPath(trimmed)
		for _, seg := range p.segments {
			if seg == "**" {
				return nil, fmt.Errorf("path pattern %q: ** is only supported as the last segment", raw)
			}
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("path pattern %q: %w", raw, err)
			}
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether any pattern matches urlPath
func (m *PathMatcher) Match(urlPath string) bool {
	if m == nil {
		return false
	}
	segments := splitPath(urlPath)
	for _, p := range m.patterns {
		if p.match(segments) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns in order
func (m *PathMatcher) Patterns() []string {
	out := make([]string, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, p.raw)
	}
	return out
}

func (p pathPattern) match(segments []string) bool {
	if len(segments) < len(p.segments) {
		return false
	}
	if !p.subtree && len(segments) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if ok, _ := path.Match(seg, segments[i]); !ok {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
