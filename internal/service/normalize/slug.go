package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength bounds slug.current.
const MaxSlugLength = 100

// StripDiacritics decomposes s and drops combining marks ("Müller" -> "Muller").
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slugify lowercases s, strips diacritics, collapses every run of characters
// outside [a-z0-9] into one hyphen and truncates to MaxSlugLength. The result
// always matches ^[a-z0-9-]{0,100}$ and Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	folded := StripDiacritics(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	slug := b.String()
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}

// FoldName reduces a venue name to lowercase ASCII letters and digits for
// similarity comparisons.
func FoldName(s string) string {
	folded := StripDiacritics(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
