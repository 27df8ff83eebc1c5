// Package keys builds deterministic tile cache keys.
package keys

import (
	"fmt"
	"strings"
	"unicode"
)

// Tile builds the cache key for a tile. fingerprint digests the tileset
// configuration so stale entries from older configs never match.
func Tile(tileset string, zoom int, x, y uint32, fingerprint uint64) string {
	return fmt.Sprintf("%s:%d:%d:%d:f=%016x", Sanitize(tileset), zoom, x, y, fingerprint)
}

// Sanitize maps a tileset name onto the [A-Za-z0-9_-] alphabet so keys
// split cleanly on ':' and translate to file paths.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
