package chunk

import (
	"strings"
	"unicode"
)

// CleanText normalizes text before splitting: control characters are
// stripped, runs of spaces and tabs collapse to one space, and runs of
// more than two newlines collapse to a paragraph break.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	newlines := 0
	spaces := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case r == '\r':
			// dropped; \r\n is handled via the \n branch
		case r == ' ' || r == '\t':
			spaces++
		case unicode.IsControl(r):
			// dropped
		default:
			if newlines > 0 {
				if newlines >= 2 {
					b.WriteString("\n\n")
				} else {
					b.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
			}
			spaces = 0
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
