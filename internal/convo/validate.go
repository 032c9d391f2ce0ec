package convo

import (
	"regexp"
	"strings"

	"github.com/corpora-ai/corpora/internal/search"
	"github.com/corpora-ai/corpora/internal/store"
)

// Validation thresholds.
const (
	unsupportedClaimLimit = 0.30 // hallucination: max unsupported claim share
	keywordCoverageFloor  = 0.5  // completeness
	minQuestionResponse   = 20   // completeness: minimum chars for questions
	relevanceOverlapFloor = 0.3
	factualVerifiedFloor  = 0.6
	validationPassFloor   = 0.6
)

// denialPatterns are responses claiming inability despite having sources.
var denialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi (cannot|can't|am unable to) (access|find|search|read)\b`),
	regexp.MustCompile(`(?i)\bno (documents|information|data) (is |are )?(available|found|indexed)\b`),
	regexp.MustCompile(`(?i)\bas an ai\b`),
}

var (
	factPattern    = regexp.MustCompile(`(?i)\b([\w-]+(?: [\w-]+)?) (is|are|has|have|was|were) ([\w-]+(?: [\w-]+){0,3})`)
	numberPattern  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	sentenceSplit  = regexp.MustCompile(`[.!?]+\s+`)
	questionStarts = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|which)\b`)
)

// CheckResult is one validation check outcome.
type CheckResult struct {
	Name       string
	Pass       bool
	Confidence float64
	Errors     []string
}

// ValidationResult aggregates the five checks.
type ValidationResult struct {
	Pass       bool
	Confidence float64
	Checks     []CheckResult
}

// ValidateResponse runs the five response checks: hallucination,
// consistency, completeness, relevance, and factual accuracy. The overall
// result passes when the aggregate confidence clears the floor and neither
// hallucination nor consistency failed.
func ValidateResponse(query, response string, sources []*search.Result, validated []Message) ValidationResult {
	sourceText := combinedSourceText(sources)

	checks := []CheckResult{
		checkHallucination(response, sourceText, len(sources)),
		checkConsistency(response, validated),
		checkCompleteness(query, response),
		checkRelevance(query, response),
		checkFactual(response, sourceText),
	}

	var sum float64
	critical := false
	for _, c := range checks {
		sum += c.Confidence
		if !c.Pass && (c.Name == "hallucination" || c.Name == "consistency") {
			critical = true
		}
	}
	confidence := sum / float64(len(checks))

	return ValidationResult{
		Pass:       confidence >= validationPassFloor && !critical,
		Confidence: confidence,
		Checks:     checks,
	}
}

func combinedSourceText(sources []*search.Result) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(strings.ToLower(s.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// checkHallucination flags denial patterns and claims whose key terms do
// not appear in any source.
func checkHallucination(response, sourceText string, sourceCount int) CheckResult {
	check := CheckResult{Name: "hallucination", Pass: true, Confidence: 1}

	if sourceCount > 0 {
		for _, pat := range denialPatterns {
			if pat.MatchString(response) {
				check.Pass = false
				check.Confidence = 0
				check.Errors = append(check.Errors, "response denies capability despite available sources")
				return check
			}
		}
	}
	if sourceText == "" {
		// Nothing to verify against.
		return check
	}

	claims := splitClaims(response)
	if len(claims) == 0 {
		return check
	}
	unsupported := 0
	for _, claim := range claims {
		if !claimSupported(claim, sourceText) {
			unsupported++
		}
	}
	share := float64(unsupported) / float64(len(claims))
	check.Confidence = 1 - share
	if share > unsupportedClaimLimit {
		check.Pass = false
		check.Errors = append(check.Errors, "too many claims unsupported by sources")
	}
	return check
}

func splitClaims(response string) []string {
	parts := sentenceSplit.Split(response+" ", -1)
	var claims []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		// Very short fragments carry no verifiable claim.
		if len(p) >= 15 {
			claims = append(claims, p)
		}
	}
	return claims
}

// claimSupported passes when at least half the claim's key terms appear in
// the combined source text.
func claimSupported(claim, sourceText string) bool {
	terms := store.FilterStopWords(store.TokenizeText(claim), store.DefaultStopWordMap())
	if len(terms) == 0 {
		return true
	}
	found := 0
	for _, term := range terms {
		if strings.Contains(sourceText, term) {
			found++
		}
	}
	return float64(found) >= float64(len(terms))*0.5
}

// checkConsistency compares the response against validated prior assistant
// messages for reversal markers.
func checkConsistency(response string, validated []Message) CheckResult {
	check := CheckResult{Name: "consistency", Pass: true, Confidence: 1}
	if len(validated) == 0 {
		return check
	}
	lower := strings.ToLower(response)
	for _, marker := range contradictionMarkers {
		if strings.Contains(lower, marker) {
			check.Pass = false
			check.Confidence = 0.2
			check.Errors = append(check.Errors, "response contradicts a validated prior statement")
			return check
		}
	}
	return check
}

// checkCompleteness requires query keyword coverage and a minimum length
// for question-type queries.
func checkCompleteness(query, response string) CheckResult {
	check := CheckResult{Name: "completeness", Pass: true, Confidence: 1}

	keywords := store.FilterStopWords(store.TokenizeText(query), store.DefaultStopWordMap())
	if len(keywords) > 0 {
		lower := strings.ToLower(response)
		covered := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				covered++
			}
		}
		coverage := float64(covered) / float64(len(keywords))
		check.Confidence = coverage
		if coverage < keywordCoverageFloor {
			check.Pass = false
			check.Errors = append(check.Errors, "response covers too few query keywords")
		}
	}

	if questionStarts.MatchString(strings.TrimSpace(query)) && len(response) < minQuestionResponse {
		check.Pass = false
		check.Confidence = 0
		check.Errors = append(check.Errors, "response too short for a question")
	}
	return check
}

// checkRelevance requires word overlap between query and response.
func checkRelevance(query, response string) CheckResult {
	check := CheckResult{Name: "relevance", Pass: true, Confidence: 1}

	queryWords := store.FilterStopWords(store.TokenizeText(query), store.DefaultStopWordMap())
	if len(queryWords) == 0 {
		return check
	}
	responseWords := make(map[string]struct{})
	for _, w := range store.TokenizeText(response) {
		responseWords[w] = struct{}{}
	}
	overlap := 0
	for _, w := range queryWords {
		if _, ok := responseWords[w]; ok {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(queryWords))
	check.Confidence = ratio
	if ratio < relevanceOverlapFloor {
		check.Pass = false
		check.Errors = append(check.Errors, "response does not address the query terms")
	}
	return check
}

// checkFactual verifies "X is Y" style and numeric claims against sources.
func checkFactual(response, sourceText string) CheckResult {
	check := CheckResult{Name: "factual", Pass: true, Confidence: 1}
	if sourceText == "" {
		return check
	}

	total, verified := 0, 0
	for _, m := range factPattern.FindAllStringSubmatch(response, -1) {
		total++
		subject := strings.ToLower(m[1])
		object := strings.ToLower(m[3])
		if strings.Contains(sourceText, subject) && objectSupported(object, sourceText) {
			verified++
		}
	}
	for _, num := range numberPattern.FindAllString(response, -1) {
		total++
		if strings.Contains(sourceText, num) {
			verified++
		}
	}
	if total == 0 {
		return check
	}
	ratio := float64(verified) / float64(total)
	check.Confidence = ratio
	if ratio < factualVerifiedFloor {
		check.Pass = false
		check.Errors = append(check.Errors, "factual claims not verifiable against sources")
	}
	return check
}

// objectSupported passes when any content word of the claim object appears
// in the sources.
func objectSupported(object, sourceText string) bool {
	words := store.FilterStopWords(store.TokenizeText(object), store.DefaultStopWordMap())
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if strings.Contains(sourceText, w) {
			return true
		}
	}
	return false
}
