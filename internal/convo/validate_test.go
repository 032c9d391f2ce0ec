package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/search"
)

func sourcesFromTexts(texts ...string) []*search.Result {
	out := make([]*search.Result, len(texts))
	for i, text := range texts {
		out[i] = &search.Result{ChunkID: string(rune('a' + i)), Text: text}
	}
	return out
}

func TestValidateResponse_GroundedAnswerPasses(t *testing.T) {
	sources := sourcesFromTexts(
		"The vpn outage on monday was caused by an expired gateway certificate.",
		"The certificate was renewed and the tunnel restored by noon.",
	)
	result := ValidateResponse(
		"what caused the vpn outage",
		"The vpn outage was caused by an expired gateway certificate, and the tunnel was restored by noon.",
		sources, nil)

	assert.True(t, result.Pass)
	assert.GreaterOrEqual(t, result.Confidence, 0.6)
}

func TestValidateResponse_DenialWithSourcesFails(t *testing.T) {
	sources := sourcesFromTexts("The outage report is in the index.")
	result := ValidateResponse(
		"what caused the outage",
		"I cannot access any outage information.",
		sources, nil)

	assert.False(t, result.Pass)
	hall := result.Checks[0]
	require.Equal(t, "hallucination", hall.Name)
	assert.False(t, hall.Pass)
}

func TestValidateResponse_UnsupportedClaimsFail(t *testing.T) {
	sources := sourcesFromTexts("The office network uses a single core switch.")
	result := ValidateResponse(
		"describe the office network",
		"The office network spans twelve datacenters across four continents. Each datacenter hosts redundant quantum routers. The satellites uplink nightly backups.",
		sources, nil)

	assert.False(t, result.Pass)
}

func TestValidateResponse_ContradictionFails(t *testing.T) {
	validated := []Message{{Role: RoleAssistant, Content: "The firewall blocks inbound traffic.", Validated: true}}
	sources := sourcesFromTexts("The firewall blocks inbound traffic by default.")
	result := ValidateResponse(
		"does the firewall block inbound traffic",
		"Actually, the opposite is true: the firewall blocks inbound traffic only on weekends.",
		sources, validated)

	assert.False(t, result.Pass)
}

func TestCheckCompleteness(t *testing.T) {
	full := checkCompleteness("vpn certificate expiry", "The vpn certificate expiry happened in june.")
	assert.True(t, full.Pass)

	sparse := checkCompleteness("vpn certificate expiry", "Networks are complicated.")
	assert.False(t, sparse.Pass)

	short := checkCompleteness("what is the dns server", "8.8.8.8")
	assert.False(t, short.Pass)
}

func TestCheckRelevance(t *testing.T) {
	on := checkRelevance("switch uplink port", "The switch uplink port is trunked.")
	assert.True(t, on.Pass)

	off := checkRelevance("switch uplink port", "Our cafeteria menu changes weekly.")
	assert.False(t, off.Pass)
}

func TestCheckFactual(t *testing.T) {
	sourceText := "the resolver is 10.0.0.53 and handles 2000 queries per second.\n"

	verified := checkFactual("The resolver handles 2000 queries per second.", sourceText)
	assert.True(t, verified.Pass)

	invented := checkFactual("The resolver handles 9999 queries per second and 12 zones.", sourceText)
	assert.False(t, invented.Pass)
}

func TestValidateResponse_NoSources(t *testing.T) {
	result := ValidateResponse(
		"vpn certificate status",
		"The vpn certificate status is healthy as of today.",
		nil, nil)
	// Without sources the factual checks cannot fail the response.
	assert.True(t, result.Pass)
}
