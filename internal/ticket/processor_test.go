package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullIncident() *Incident {
	return &Incident{
		SysID:            "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		Number:           "INC00000042",
		ShortDescription: "Core switch sw-core-01 unreachable",
		Description:      "Switch sw-core-01 at 10.20.30.40 stopped responding to pings from monitor.corp.",
		Priority:         "1",
		State:            "6",
		Category:         "network",
		AssignmentGroup:  "Network Ops",
		AssignedTo:       "Jane Smith",
		OpenedAt:         "2025-12-01 08:15:00",
		ResolvedAt:       "2025-12-01 10:40:00",
		CloseNotes:       "Replaced failed supervisor module on sw-core-01.",
		WorkNotes:        "Console attached via srv-oob-02, uplink to 10.20.30.40 verified.",
		UpdatedOn:        "2025-12-01 10:41:00",
	}
}

func TestContentHash_Stable(t *testing.T) {
	a := fullIncident()
	b := fullIncident()
	assert.Equal(t, ContentHash(a), ContentHash(b))

	b.Description = "changed"
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}

func TestContentHash_IgnoresVolatileFields(t *testing.T) {
	a := fullIncident()
	b := fullIncident()
	b.UpdatedOn = "2026-01-01 00:00:00"
	b.OpenedAt = "2026-01-01 00:00:00"
	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestBuildChunks_AllSections(t *testing.T) {
	chunks := BuildChunks(fullIncident())
	require.Len(t, chunks, 4)

	sections := make(map[string]string, len(chunks))
	for _, c := range chunks {
		sections[c.Metadata["section"]] = c.Text
	}

	require.Contains(t, sections, "summary")
	assert.Contains(t, sections["summary"], "Ticket INC00000042: Core switch sw-core-01 unreachable")
	assert.Contains(t, sections["summary"], "Priority: 1")
	assert.Contains(t, sections["summary"], "Assigned to: Jane Smith")

	assert.Contains(t, sections["description"], "stopped responding")

	require.Contains(t, sections, "resolution")
	assert.Contains(t, sections["resolution"], "Resolution: Replaced failed supervisor module")
	assert.Contains(t, sections["resolution"], "Work notes: Console attached")

	require.Contains(t, sections, "technical")
	assert.Contains(t, sections["technical"], "10.20.30.40")
	assert.Contains(t, sections["technical"], "sw-core-01")
}

func TestBuildChunks_Minimal(t *testing.T) {
	chunks := BuildChunks(&Incident{Number: "INC00000001", ShortDescription: "printer jam"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "summary", chunks[0].Metadata["section"])
	assert.Contains(t, chunks[0].Text, "printer jam")
}

func TestExtractTechnicalDetails(t *testing.T) {
	inc := &Incident{
		Description: "Host fileserver.corp lost its route to 192.168.1.10. Also 192.168.1.10 was pinged from rtr-edge-03.",
		WorkNotes:   "Checked esx-cluster-a and 999.1.1.1 is not an address.",
	}
	out := ExtractTechnicalDetails(inc)

	assert.Contains(t, out, "IP addresses: 192.168.1.10")
	assert.NotContains(t, out, "999.1.1.1")
	assert.Contains(t, out, "fileserver.corp")
	assert.Contains(t, out, "rtr-edge-03")
	assert.Contains(t, out, "esx-cluster-a")

	// Repeated mentions collapse to one entry.
	assert.Equal(t, 1, countOccurrences(out, "192.168.1.10"))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}

func TestExtractTechnicalDetails_Empty(t *testing.T) {
	assert.Equal(t, "", ExtractTechnicalDetails(&Incident{Description: "user forgot their password"}))
}

func TestDocumentMetadata(t *testing.T) {
	meta := DocumentMetadata(fullIncident())
	assert.Equal(t, "INC00000042", meta["ticket_number"])
	assert.Equal(t, "1", meta["priority"])
	assert.Equal(t, "6", meta["state"])
	assert.Equal(t, "network", meta["category"])
	assert.Equal(t, "Network Ops", meta["assignment_group"])
	assert.Equal(t, "Jane Smith", meta["author"])
	assert.Equal(t, "2025-12-01 08:15:00", meta["created_date"])
}

func TestDocumentMetadata_SkipsInvalidDate(t *testing.T) {
	inc := fullIncident()
	inc.OpenedAt = "last tuesday"
	inc.Category = ""
	inc.AssignedTo = ""

	meta := DocumentMetadata(inc)
	assert.NotContains(t, meta, "created_date")
	assert.NotContains(t, meta, "category")
	assert.NotContains(t, meta, "author")
}

func TestPayloadRoundTrip(t *testing.T) {
	inc := fullIncident()
	decoded, err := decodeIncident(Payload(inc))
	require.NoError(t, err)
	assert.Equal(t, inc, decoded)
}
