package chunk

import (
	"strings"
)

// ContentType classifies text for overlap selection.
type ContentType string

const (
	ContentCode       ContentType = "code"
	ContentStructured ContentType = "structured_data"
	ContentTechnical  ContentType = "technical"
	ContentList       ContentType = "list"
	ContentDialogue   ContentType = "dialogue"
	ContentProse      ContentType = "prose"
)

var codeMarkers = []string{
	"func ", "def ", "class ", "import ", "return ", "var ", "const ",
	"if (", "for (", "while (", "=>", "();", "{}", "&&", "||",
}

var technicalMarkers = []string{
	"error", "server", "config", "protocol", "network", "database",
	"timeout", "firewall", "router", "switch", "vpn", "dns", "dhcp",
	"interface", "gateway", "subnet", "port", "certificate", "authentication",
}

var dialogueMarkers = []string{
	"q:", "a:", "user:", "agent:", "caller:", "resolved:", "asked", "replied", "said",
}

// ClassifyContent inspects token markers, bracket density, indentation and
// line shapes to pick a content type. Prose wins when nothing dominates.
func ClassifyContent(text string) ContentType {
	if text == "" {
		return ContentProse
	}
	lower := strings.ToLower(text)
	lines := strings.Split(text, "\n")

	codeScore := 0
	for _, marker := range codeMarkers {
		codeScore += strings.Count(lower, marker)
	}
	indented := 0
	listLines := 0
	delimited := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
			indented++
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") ||
			strings.HasPrefix(trimmed, "•") || startsWithOrdinal(trimmed) {
			listLines++
		}
		if strings.Count(trimmed, "|") >= 2 || strings.Count(trimmed, ",") >= 3 ||
			strings.Count(trimmed, "\t") >= 2 {
			delimited++
		}
	}
	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return ContentProse
	}

	brackets := strings.Count(text, "{") + strings.Count(text, "}") +
		strings.Count(text, "[") + strings.Count(text, "]")
	xmlTags := strings.Count(text, "</") + strings.Count(text, "/>")

	// Order matters: the more specific shapes win over keyword counting.
	switch {
	case codeScore >= 3 || (indented*2 > nonEmpty && codeScore > 0):
		return ContentCode
	case delimited*2 > nonEmpty || xmlTags >= 3 || brackets*20 > len(text):
		return ContentStructured
	case listLines*2 > nonEmpty:
		return ContentList
	case countMarkers(lower, dialogueMarkers) >= 3:
		return ContentDialogue
	case countMarkers(lower, technicalMarkers) >= 4:
		return ContentTechnical
	default:
		return ContentProse
	}
}

func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		n += strings.Count(lower, m)
	}
	return n
}

func startsWithOrdinal(line string) bool {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

// ComputeOverlap returns the dynamic overlap for the given text and target
// chunk size. defaultOverlap is the configured prose overlap.
func ComputeOverlap(text string, chunkSize, defaultOverlap int) int {
	base := baseOverlap(ClassifyContent(text), chunkSize, defaultOverlap)
	adjusted := float64(base) * characteristicMultiplier(text)

	overlap := int(adjusted)
	upper := chunkSize / 2
	if upper > MaxOverlap {
		upper = MaxOverlap
	}
	if overlap > upper {
		overlap = upper
	}
	if overlap < MinOverlap {
		overlap = MinOverlap
	}
	return overlap
}

func baseOverlap(ct ContentType, chunkSize, defaultOverlap int) int {
	minOf := func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}
	switch ct {
	case ContentCode:
		return minOf(50, chunkSize/10)
	case ContentStructured:
		return minOf(300, chunkSize/3)
	case ContentTechnical:
		return minOf(250, chunkSize/4)
	case ContentList:
		return minOf(100, chunkSize/8)
	case ContentDialogue:
		return minOf(200, chunkSize/5)
	default:
		return defaultOverlap
	}
}

// characteristicMultiplier adjusts overlap for sentence length, paragraph
// density and punctuation density.
func characteristicMultiplier(text string) float64 {
	mult := 1.0

	sentences := splitSentences(text)
	if len(sentences) > 0 {
		totalLen := 0
		for _, s := range sentences {
			totalLen += len(s)
		}
		avg := totalLen / len(sentences)
		if avg > 150 {
			mult *= 1.3
		} else if avg < 50 {
			mult *= 0.8
		}
	}

	paragraphs := strings.Count(text, "\n\n") + 1
	if len(text) > 0 {
		perKB := float64(paragraphs) / (float64(len(text)) / 1000.0)
		if perKB > 5 {
			mult *= 0.9
		} else if perKB < 1 {
			mult *= 1.2
		}
	}

	punct := strings.Count(text, ",") + strings.Count(text, ";") + strings.Count(text, ":")
	if len(text) > 0 && float64(punct)/float64(len(text)) > 0.02 {
		mult *= 1.1
	}

	return mult
}
