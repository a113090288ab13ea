package retrieval

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// "in X" / "of X" where X is a capitalized name.
	prepositionEntityRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:in|of)\s+(\p{Lu}[\p{L}\p{N} &\-]*)`)

	// Any capitalized run of six or more name characters.
	capitalizedRunRe = regexp.MustCompile(`\p{Lu}[\p{L}\p{N} &\-]{5,}`)
)

// quotePairs maps each opening quote to its closing quote.
var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
}

// ExtractEntity returns the best-guess subject of a question. Rules are
// tried in order and the first hit wins:
//
//  1. the first non-empty quoted span;
//  2. a capitalized name following "in" or "of";
//  3. the first capitalized run of six or more name characters;
//  4. the whole question.
//
// The result is trimmed and is empty only when the question is blank.
func ExtractEntity(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return ""
	}
	if s, ok := firstQuotedSpan(q); ok {
		return s
	}
	if m := prepositionEntityRe.FindStringSubmatch(q); m != nil {
		if s := strings.TrimSpace(m[1]); s != "" {
			return s
		}
	}
	if m := capitalizedRunRe.FindString(q); m != "" {
		if s := strings.TrimSpace(m); s != "" {
			return s
		}
	}
	return q
}

// firstQuotedSpan scans for the first quote pair enclosing non-blank text.
// A straight single quote only opens after a non-word rune and only closes
// before one, so apostrophes in "what's" or "Nestlé's" are not quotes.
func firstQuotedSpan(s string) (string, bool) {
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		closing, ok := quotePairs[runes[i]]
		if !ok {
			continue
		}
		if runes[i] == '\'' && i > 0 && isWordRune(runes[i-1]) {
			continue
		}
		for j := i + 1; j < len(runes); j++ {
			if runes[j] != closing {
				continue
			}
			if closing == '\'' && j+1 < len(runes) && isWordRune(runes[j+1]) {
				continue
			}
			if span := strings.TrimSpace(string(runes[i+1 : j])); span != "" {
				return span, true
			}
			i = j
			break
		}
	}
	return "", false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
