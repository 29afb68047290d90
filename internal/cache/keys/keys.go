// Package keys derives cache namespaces and backend keys for tiles.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/stenvall/tilecache/internal/tile"
)

const maxNameLen = 64

// Namespace separates tiles of different servers sharing one cache root. The
// readable part comes from name; the hash suffix comes from the url template so
// two layers with the same title but different servers never collide.
func Namespace(name, urlFormat string) string {
	safe := sanitize(strings.TrimSpace(name))
	if len(safe) > maxNameLen {
		safe = safe[:maxNameLen]
	}
	if safe == "" {
		safe = "layer"
	}
	sum := xxhash.Sum64String(strings.TrimSpace(urlFormat))
	return fmt.Sprintf("%s-%016x", safe, sum)
}

// Redis returns the key a tile is stored under in a shared key space.
func Redis(namespace string, idx tile.Index) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", namespace, idx.Level, idx.Col, idx.Row)
}

// keeps [A-Za-z0-9_-]; whitespace becomes '_', anything else '-', runs collapse
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
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
		(r >= '0' && r <= '9')
}
