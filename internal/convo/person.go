package convo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corpora-ai/corpora/internal/search"
)

// personKeywords indicate person-describing text.
var personKeywords = []string{
	"employee", "role", "department", "team", "manager", "position",
	"title", "contact", "email", "phone", "office", "staff", "reports",
}

// perChunkScoreCap bounds a single chunk's person relevance contribution.
const perChunkScoreCap = 2.0

var (
	rolePattern     = regexp.MustCompile(`(?i)(?:role|position|title)[:\s]+([^\n.,;]{2,60})`)
	deptPattern     = regexp.MustCompile(`(?i)(?:department|team|unit)[:\s]+([^\n.,;]{2,60})`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern    = regexp.MustCompile(`\+?[0-9][0-9 ()-]{6,}[0-9]`)
	locationPattern = regexp.MustCompile(`(?i)(?:location|office|based in|site)[:\s]+([^\n.,;]{2,60})`)
)

// PersonSearchStrategies expands a person query into the formulations tried
// in order: the bare name, name with role keywords, name with department
// keywords.
func PersonSearchStrategies(name string) []string {
	return []string{
		name,
		name + " role position title",
		name + " department team",
		name + " contact email phone",
	}
}

// PersonRelevance scores how strongly the result set is about the named
// person. Per chunk: 1.0 for the full name, 0.3 per name part, 0.1 per
// person keyword, 0.2 per sentence where a name part and a keyword
// co-occur, capped at 2.0. The set score is the per-chunk average.
func PersonRelevance(name string, results []*search.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	fullName := strings.ToLower(strings.TrimSpace(name))
	parts := strings.Fields(fullName)

	var total float64
	for _, r := range results {
		total += personChunkScore(strings.ToLower(r.Text), fullName, parts)
	}
	return total / float64(len(results))
}

func personChunkScore(text, fullName string, parts []string) float64 {
	var score float64
	if strings.Contains(text, fullName) {
		score += 1.0
	}
	for _, part := range parts {
		if strings.Contains(text, part) {
			score += 0.3
		}
	}
	for _, kw := range personKeywords {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		hasPart := false
		for _, part := range parts {
			if strings.Contains(sentence, part) {
				hasPart = true
				break
			}
		}
		if !hasPart {
			continue
		}
		for _, kw := range personKeywords {
			if strings.Contains(sentence, kw) {
				score += 0.2
				break
			}
		}
	}
	if score > perChunkScoreCap {
		return perChunkScoreCap
	}
	return score
}

// PersonInfo is the structured block extracted for person queries.
type PersonInfo struct {
	Name       string
	Role       string
	Department string
	Email      string
	Phone      string
	Location   string
}

// ExtractPersonInfo pulls role, department, contact and location details
// for the named person from the result texts. First match wins per field.
func ExtractPersonInfo(name string, results []*search.Result) PersonInfo {
	info := PersonInfo{Name: name}
	nameLower := strings.ToLower(name)

	for _, r := range results {
		// Only mine chunks that actually mention the person.
		if !strings.Contains(strings.ToLower(r.Text), nameLower) {
			continue
		}
		if info.Role == "" {
			if m := rolePattern.FindStringSubmatch(r.Text); m != nil {
				info.Role = strings.TrimSpace(m[1])
			}
		}
		if info.Department == "" {
			if m := deptPattern.FindStringSubmatch(r.Text); m != nil {
				info.Department = strings.TrimSpace(m[1])
			}
		}
		if info.Email == "" {
			if m := emailPattern.FindString(r.Text); m != "" {
				info.Email = m
			}
		}
		if info.Phone == "" {
			if m := phonePattern.FindString(r.Text); m != "" {
				info.Phone = strings.TrimSpace(m)
			}
		}
		if info.Location == "" {
			if m := locationPattern.FindStringSubmatch(r.Text); m != nil {
				info.Location = strings.TrimSpace(m[1])
			}
		}
	}
	return info
}

// Render formats the extracted block as the response body. Empty fields
// are omitted; a block with only the name reports that nothing was found.
func (p PersonInfo) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Information about %s:\n", p.Name)
	fields := 0
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
			fields++
		}
	}
	write("Role", p.Role)
	write("Department", p.Department)
	write("Email", p.Email)
	write("Phone", p.Phone)
	write("Location", p.Location)
	if fields == 0 {
		return fmt.Sprintf("I found mentions of %s but no structured details about their role or contact information.", p.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}
