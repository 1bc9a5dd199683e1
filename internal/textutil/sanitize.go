package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// unsafePathChars maps characters that cannot appear in a path segment.
var unsafePathChars = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-",
	"?", "", "\"", "", "<", "", ">", "", "|", "",
)

// FoldDiacritics strips combining marks after canonical decomposition, so
// "Zoë" becomes "Zoe". Characters without an ASCII base are kept.
func FoldDiacritics(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return folded
}

// DirName converts an influencer name into a single safe path segment.
// Empty or dot-only names become "unknown".
func DirName(name string) string {
	cleaned := unsafePathChars.Replace(FoldDiacritics(name))
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	if strings.Trim(cleaned, ".") == "" {
		return "unknown"
	}
	return cleaned
}

// DisplayName title-cases a name for console tables.
func DisplayName(name string) string {
	return cases.Title(language.Und, cases.NoLower).String(strings.TrimSpace(name))
}
