package storage

import (
	"net/url"
	"strings"
)

// HostSegment turns the host of rawURL into a directory name. Ports are kept
// with '_' in place of ':'.
func HostSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return SafeName(strings.ToLower(parsed.Host))
}

// SafeName replaces every byte outside [A-Za-z0-9._-] with '_'.
func SafeName(s string) string {
	if s == "" {
		return "unnamed"
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "unnamed"
	}
	return out
}
