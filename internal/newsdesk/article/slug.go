package article

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug derives the lowercase, hyphenated natural key for an author or
// category name. Accents are stripped ("Émile Zola" -> "emile-zola") and
// every run of non-alphanumerics becomes a single hyphen.
func Slug(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var sb strings.Builder
	sb.Grow(len(folded))
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingDash = true
			continue
		}
		if pendingDash && sb.Len() > 0 {
			sb.WriteByte('-')
		}
		pendingDash = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// DisplayName title-cases a category name. Letters that are already upper
// case are left alone so acronyms survive ("AI news" -> "AI News").
func DisplayName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.Und, cases.NoLower).String(name)
}
