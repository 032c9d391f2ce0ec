package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/search"
)

func TestPersonRelevance(t *testing.T) {
	results := []*search.Result{
		{ChunkID: "c1", Text: "Jane Smith is an employee in the infrastructure department."},
		{ChunkID: "c2", Text: "Unrelated text about switch firmware."},
	}
	score := PersonRelevance("Jane Smith", results)
	assert.Greater(t, score, 0.5)

	none := PersonRelevance("Jane Smith", []*search.Result{
		{ChunkID: "c1", Text: "nothing about anyone here"},
	})
	assert.Equal(t, 0.0, none)
}

func TestPersonRelevance_CapPerChunk(t *testing.T) {
	// A chunk stuffed with name parts and keywords cannot exceed the cap.
	text := "Jane Smith Jane Smith employee role department team manager position title contact email phone office staff. Jane is an employee. Smith has a role."
	score := PersonRelevance("Jane Smith", []*search.Result{{ChunkID: "c1", Text: text}})
	assert.LessOrEqual(t, score, perChunkScoreCap)
	assert.Equal(t, perChunkScoreCap, score)
}

func TestPersonRelevance_Empty(t *testing.T) {
	assert.Equal(t, 0.0, PersonRelevance("Jane Smith", nil))
}

func TestPersonSearchStrategies(t *testing.T) {
	strategies := PersonSearchStrategies("Jane Smith")
	require.NotEmpty(t, strategies)
	assert.Equal(t, "Jane Smith", strategies[0])
	for _, s := range strategies[1:] {
		assert.Contains(t, s, "Jane Smith")
	}
}

func TestExtractPersonInfo(t *testing.T) {
	results := []*search.Result{
		{ChunkID: "c1", Text: "Jane Smith, Role: Senior Network Engineer, Department: Infrastructure"},
		{ChunkID: "c2", Text: "Jane Smith can be reached at jane.smith@example.com or +1 555 010 2000, Location: Building 4"},
		{ChunkID: "c3", Text: "Role: Janitor, Department: Facilities"}, // no name mention, ignored
	}
	info := ExtractPersonInfo("Jane Smith", results)

	assert.Equal(t, "Senior Network Engineer", info.Role)
	assert.Equal(t, "Infrastructure", info.Department)
	assert.Equal(t, "jane.smith@example.com", info.Email)
	assert.NotEmpty(t, info.Phone)
	assert.Equal(t, "Building 4", info.Location)
}

func TestPersonInfo_Render(t *testing.T) {
	full := PersonInfo{Name: "Jane Smith", Role: "Engineer", Email: "j@example.com"}
	rendered := full.Render()
	assert.Contains(t, rendered, "Jane Smith")
	assert.Contains(t, rendered, "Role: Engineer")
	assert.Contains(t, rendered, "j@example.com")

	empty := PersonInfo{Name: "Jane Smith"}
	assert.Contains(t, empty.Render(), "no structured details")
}
