package ticket

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/corpora-ai/corpora/internal/ingest"
)

var (
	// ipPattern matches dotted-quad IPv4 addresses with valid octets.
	ipPattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1?[0-9]?[0-9])\b`)

	// hostnamePattern matches qualified names on common internal and
	// public suffixes, plus device-style names like sw-core-01.
	hostnamePattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+(?:local|corp|lan|internal|com|net|org)\b|\b(?:sw|rtr|fw|srv|ap|esx)-[a-zA-Z0-9-]+\b`)
)

// ContentHash fingerprints the fields that matter for change detection.
// Volatile fields like fetch timestamps stay out so a re-fetch of an
// unchanged ticket hashes identically.
func ContentHash(inc *Incident) string {
	parts := []string{
		inc.Number,
		inc.ShortDescription,
		inc.Description,
		inc.Priority,
		inc.State,
		inc.Category,
		inc.AssignmentGroup,
		inc.AssignedTo,
		inc.ResolvedAt,
		inc.CloseNotes,
		inc.WorkNotes,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Payload serialises the incident for the cache.
func Payload(inc *Incident) string {
	data, err := json.Marshal(inc)
	if err != nil {
		return ""
	}
	return string(data)
}

// BuildChunks renders an incident as ingestion chunks: a summary section,
// the description, resolution notes, and an extracted technical-details
// section with IPs and hostnames.
func BuildChunks(inc *Incident) []ingest.RawChunk {
	var chunks []ingest.RawChunk
	add := func(section, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, ingest.RawChunk{
			Text:     text,
			Metadata: map[string]string{"section": section},
		})
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Ticket %s: %s\n", inc.Number, inc.ShortDescription)
	writeField(&summary, "Priority", inc.Priority)
	writeField(&summary, "State", inc.State)
	writeField(&summary, "Category", inc.Category)
	writeField(&summary, "Assignment group", inc.AssignmentGroup)
	writeField(&summary, "Assigned to", inc.AssignedTo)
	writeField(&summary, "Opened", inc.OpenedAt)
	writeField(&summary, "Resolved", inc.ResolvedAt)
	add("summary", summary.String())

	add("description", inc.Description)

	var resolution strings.Builder
	if inc.CloseNotes != "" {
		fmt.Fprintf(&resolution, "Resolution: %s\n", inc.CloseNotes)
	}
	if inc.WorkNotes != "" {
		fmt.Fprintf(&resolution, "Work notes: %s\n", inc.WorkNotes)
	}
	add("resolution", resolution.String())

	if technical := ExtractTechnicalDetails(inc); technical != "" {
		add("technical", technical)
	}
	return chunks
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

// ExtractTechnicalDetails collects IP addresses and hostnames mentioned
// anywhere in the ticket text.
func ExtractTechnicalDetails(inc *Incident) string {
	text := strings.Join([]string{inc.ShortDescription, inc.Description, inc.CloseNotes, inc.WorkNotes}, "\n")

	ips := dedupeSorted(ipPattern.FindAllString(text, -1))
	hosts := dedupeSorted(hostnamePattern.FindAllString(text, -1))
	if len(ips) == 0 && len(hosts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Technical details:\n")
	if len(ips) > 0 {
		fmt.Fprintf(&b, "IP addresses: %s\n", strings.Join(ips, ", "))
	}
	if len(hosts) > 0 {
		fmt.Fprintf(&b, "Hostnames: %s\n", strings.Join(hosts, ", "))
	}
	return b.String()
}

// DocumentMetadata builds the document-level metadata map for an incident.
func DocumentMetadata(inc *Incident) map[string]string {
	meta := map[string]string{
		"ticket_number": inc.Number,
		"priority":      inc.Priority,
		"state":         inc.State,
	}
	if inc.Category != "" {
		meta["category"] = inc.Category
	}
	if inc.AssignmentGroup != "" {
		meta["assignment_group"] = inc.AssignmentGroup
	}
	if inc.AssignedTo != "" {
		meta["author"] = inc.AssignedTo
	}
	if ValidateISODate(inc.OpenedAt) {
		meta["created_date"] = inc.OpenedAt
	}
	return meta
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
