package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey trims and case-folds s so that "Ana", "ANA " and "ana" share one key.
func NormalizeKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// FoldAccents lowercases s and strips combining marks, so "Feijão" becomes "feijao".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
