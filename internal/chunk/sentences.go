package chunk

import (
	"strings"
	"unicode"
)

// splitSentences breaks text into sentences at terminal punctuation
// followed by whitespace and an upper-case letter or digit. Abbreviation
// handling is deliberately simple; the chunkers tolerate over-splitting.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Consume trailing punctuation like "?!" or "...".
		j := i
		for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?' || runes[j+1] == '"') {
			j++
		}
		// Require whitespace then a capital or digit to call it a boundary.
		k := j + 1
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k == j+1 || k >= len(runes) {
			if k >= len(runes) {
				break
			}
			continue
		}
		if !unicode.IsUpper(runes[k]) && !unicode.IsDigit(runes[k]) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[start : j+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = k
		i = k - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
