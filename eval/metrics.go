package eval

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/hybridrag/synthesis"
)

// normalizeLLMText normalizes Unicode characters commonly inserted by models
// so that substring matching works reliably:
//   - Unicode whitespace becomes an ASCII space (U+202F, U+00A0, etc.)
//   - Unicode hyphens become an ASCII hyphen (U+2010 to U+2014)
//   - zero-width characters are stripped (U+200B, U+200C, U+200D, U+FEFF)
func normalizeLLMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r >= '\u2010' && r <= '\u2014':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// strip zero-width characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FactRecall returns the share of facts found in text. Matching is
// case-insensitive and tolerant of spacing and hyphenation ("fill-level"
// matches "fill level", "5%" matches "5 %"). A fact with pipe-separated
// alternatives counts once if any alternative matches. No facts scores 0.
func FactRecall(text string, facts []string) float64 {
	if text == "" || len(facts) == 0 {
		return 0
	}

	normalized := normalizeLLMText(strings.ToLower(text))
	spaceless := strings.ReplaceAll(normalized, " ", "")
	hyphenless := strings.ReplaceAll(spaceless, "-", "")

	found := 0
	for _, fact := range facts {
		for _, alt := range strings.Split(fact, "|") {
			alt = strings.TrimSpace(alt)
			if alt == "" {
				continue
			}
			normAlt := normalizeLLMText(strings.ToLower(alt))
			noSpace := strings.ReplaceAll(normAlt, " ", "")
			noHyphen := strings.ReplaceAll(noSpace, "-", "")
			if strings.Contains(normalized, normAlt) ||
				strings.Contains(spaceless, noSpace) ||
				strings.Contains(hyphenless, noHyphen) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(facts))
}

// EntityMatches reports whether the extracted entity equals the expected
// one, ignoring case and surrounding space.
func EntityMatches(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
}

// noInfoPhrases mark model answers that decline for lack of context.
var noInfoPhrases = []string{
	"couldn't find any relevant information",
	"could not find any relevant information",
	"no relevant information",
	"does not contain",
	"doesn't contain",
	"not mentioned",
	"not found in",
	"no information about",
}

// IsNoInfoAnswer reports whether text says the catalog had nothing.
func IsNoInfoAnswer(text string) bool {
	if text == synthesis.NoInformationAnswer {
		return true
	}
	lower := normalizeLLMText(strings.ToLower(text))
	// The fallback template quotes retrieved context, which is information.
	if strings.HasPrefix(lower, "here's what i found about") {
		return false
	}
	for _, p := range noInfoPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
