package storage

import (
	"strings"
	"unicode"
)

// NormalizeLabel canonicalizes a free-form model class label into a dataset
// key. A case-insensitive "fresh_" or "rotten_" prefix is rewritten to
// canonical casing, the second underscore-delimited segment is capitalized
// on its first letter only, and any further segments pass through
// untouched. Input without underscores is returned trimmed but otherwise
// unmodified. NormalizeLabel is pure and idempotent.
func NormalizeLabel(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "_") {
		return trimmed
	}

	segments := strings.Split(trimmed, "_")
	switch {
	case strings.EqualFold(segments[0], "fresh"):
		segments[0] = "Fresh"
	case strings.EqualFold(segments[0], "rotten"):
		segments[0] = "Rotten"
	}
	segments[1] = capitalize(segments[1])

	return strings.Join(segments, "_")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
