package layerstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// PointsKey names the canonical point set of a layer.
func PointsKey(layer string) string {
	return "points:" + sanitizeLayer(strings.TrimSpace(layer))
}

// VersionKey names the monotone version counter of a layer.
func VersionKey(layer string) string {
	return "points:ver:" + sanitizeLayer(strings.TrimSpace(layer))
}

// LayoutKey names a cached layout for one layer version and one
// parameter combination. The readable radius and keyer fragments are
// sanitized for Redis, so an xxhash of the raw parameters is appended
// to keep distinct parameters from colliding after sanitization.
func LayoutKey(layer string, version int64, radius float64, keyer string) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(layer))
	r := strconv.FormatFloat(radius, 'g', -1, 64)
	k := strings.TrimSpace(keyer)

	kSafe := sanitizeForKey(k)
	const maxKeyerTextLen = 64
	if len(kSafe) > maxKeyerTextLen {
		kSafe = kSafe[:maxKeyerTextLen]
	}

	sum := xxhash.Sum64String("r=" + r + ";k=" + k)

	return fmt.Sprintf("layout:%s:%d:r=%s:k=%s:p=%016x", layerNorm, version, sanitizeForKey(r), kSafe, sum)
}

func sanitizeForKey(s string) string {
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
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
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

func sanitizeLayer(s string) string {
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
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
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
