// Package textfilter softens narration for stories with a family content
// rating. The model is already instructed to respect the rating; this is
// the deterministic backstop.
package textfilter

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// replacements maps words to softer alternatives. Matching is
// case-insensitive on word boundaries; replacement preserves the original
// casing style.
var replacements = map[string]string{
	"fuck":     "fudge",
	"shit":     "shoot",
	"damn":     "dang",
	"goddamn":  "gosh-dang",
	"hell":     "heck",
	"ass":      "butt",
	"asshole":  "jerk",
	"bitch":    "jerk",
	"bastard":  "scoundrel",
	"crap":     "crud",
	"piss":     "tick",
	"bullshit": "baloney",
}

// Filter replaces disallowed words in narration text.
type Filter struct {
	patterns map[string]*regexp.Regexp
}

// New builds a filter with patterns precompiled.
func New() *Filter {
	f := &Filter{patterns: make(map[string]*regexp.Regexp, len(replacements))}
	for word := range replacements {
		f.patterns[word] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	}
	return f
}

// Apply filters text when the story's rating calls for it, otherwise
// returns the text unchanged.
func (f *Filter) Apply(text, rating string) string {
	if !RatingRequiresFilter(rating) {
		return text
	}
	return f.Filter(text)
}

// Filter unconditionally replaces disallowed words, preserving case.
func (f *Filter) Filter(text string) string {
	result := text
	for word, pattern := range f.patterns {
		replacement := replacements[word]
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			return preserveCase(match, replacement)
		})
	}
	return result
}

// RatingRequiresFilter reports whether a content rating calls for
// filtering. Unrated stories are left alone.
func RatingRequiresFilter(rating string) bool {
	switch strings.ToUpper(strings.TrimSpace(rating)) {
	case "G", "PG", "PG13", "PG-13":
		return true
	default:
		return false
	}
}

// preserveCase applies the case style of the original word to the
// replacement: all-caps stays all-caps, title case stays title case.
func preserveCase(original, replacement string) string {
	if original == strings.ToUpper(original) && len(original) > 1 {
		return strings.ToUpper(replacement)
	}
	titleCaser := cases.Title(language.English)
	if original == titleCaser.String(strings.ToLower(original)) {
		return titleCaser.String(replacement)
	}
	return replacement
}
