package store

import (
	"strings"
	"unicode"
)

// defaultStopWords are filtered from keyword queries and indexed content.
// Tuned for support-desk prose rather than code identifiers.
var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"has", "have", "how", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "this", "to", "was", "were", "what", "when", "where", "which",
	"who", "will", "with",
}

// BuildStopWordMap converts a stop-word list to a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// DefaultStopWordMap returns the default stop-word set.
func DefaultStopWordMap() map[string]struct{} {
	return BuildStopWordMap(defaultStopWords)
}

// TokenizeText lowercases and splits text on non-alphanumeric boundaries.
// Hyphens and underscores split too, so "access-point" yields both parts.
func TokenizeText(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FilterStopWords drops stop words and single-character tokens.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	out := tokens[:0]
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}
