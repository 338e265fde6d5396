// Package matcher implements the pure keyword-matching step: transcript text
// in, set of matched keywords out. No state, no I/O.
package matcher

import (
	"strings"
	"unicode"

	"phrase_trading/internal/models"
)

// Match returns the rule keywords found in the transcript, using the rule's
// match mode. Transcript and keywords are normalized identically (lowercased,
// punctuation stripped) before comparison, so recognizer casing or stray
// punctuation never affects the result.
func Match(rule models.MarketRule, transcript string) []string {
	normText := Normalize(transcript)
	if normText == "" {
		return nil
	}

	var tokens []string
	if rule.MatchMode == models.MatchExact {
		tokens = strings.Fields(normText)
	}

	var matched []string
	for _, kw := range rule.Keywords {
		normKw := Normalize(kw)
		if normKw == "" {
			continue
		}
		var hit bool
		switch rule.MatchMode {
		case models.MatchExact:
			hit = containsTokenSeq(tokens, strings.Fields(normKw))
		default:
			hit = strings.Contains(normText, normKw)
		}
		if hit {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Normalize lowercases the text and replaces punctuation with spaces,
// collapsing runs of whitespace. "Bitcoin's up!" -> "bitcoin s up".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsTokenSeq reports whether want appears as a contiguous run of whole
// tokens inside have. Multi-word keywords ("sleepy joe") match as a sequence.
func containsTokenSeq(have, want []string) bool {
	if len(want) == 0 || len(want) > len(have) {
		return false
	}
	for i := 0; i+len(want) <= len(have); i++ {
		ok := true
		for j, w := range want {
			if have[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
