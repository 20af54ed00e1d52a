// Package text provides the lexical primitives shared by claim deduplication,
// narrative grouping, and snippet relevance scoring. All functions are pure and
// deterministic so similarity decisions are reproducible across runs and
// worker orderings.
package text

import (
	"strings"
	"unicode"
)

// stopwords are excluded from token sets so similarity reflects content words
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "of": true,
	"in": true, "on": true, "to": true, "and": true, "or": true,
	"that": true, "this": true, "it": true, "as": true, "by": true,
	"for": true, "with": true, "at": true, "from": true,
}

// Normalize lowercases and collapses whitespace
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokens splits s into normalized content tokens. Punctuation is stripped,
// stopwords and single-character tokens are dropped.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenSet returns the unique content tokens of s
func TokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokens(s) {
		set[tok] = true
	}
	return set
}

// Jaccard computes token-set similarity in [0,1]. Two empty token sets are
// considered identical (1.0); one empty set against a non-empty one is 0.
func Jaccard(a, b string) float64 {
	sa := TokenSet(a)
	sb := TokenSet(b)

	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range sa {
		if sb[tok] {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

// OverlapScore returns the fraction of query tokens present in text, in [0,1].
// Used to prefilter search results and score snippet relevance against a claim.
func OverlapScore(query, text string) float64 {
	q := TokenSet(query)
	if len(q) == 0 {
		return 0.0
	}
	t := TokenSet(text)

	hits := 0
	for tok := range q {
		if t[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// SplitSentences splits free text into sentence-like units. Very short
// fragments are merged forward; units outside sane length bounds are dropped.
func SplitSentences(s string) []string {
	s = strings.ReplaceAll(s, "\n", " ")

	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		current.Reset()
		if len(sentence) >= 20 && len(sentence) <= 2000 {
			sentences = append(sentences, sentence)
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Split only at terminator followed by whitespace, to skip
			// abbreviations and decimal points.
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// Truncate cuts s to at most max bytes on a rune boundary
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
