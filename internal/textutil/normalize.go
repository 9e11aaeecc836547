package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripAccents removes combining diacritical marks ("análise" -> "analise").
// On a transform failure the input is returned unchanged.
func StripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize prepares text for matching: trims, optionally strips accents
// and, unless matching case-sensitively, lowercases.
func Normalize(s string, stripAccents, caseSensitive bool) string {
	s = strings.TrimSpace(s)
	if stripAccents {
		s = StripAccents(s)
	}
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// Fold is the command-grammar normalization: trimmed, lowercased and
// accent-stripped.
func Fold(s string) string {
	return StripAccents(strings.ToLower(strings.TrimSpace(s)))
}
