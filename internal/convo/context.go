package convo

import (
	"sort"
	"strings"
)

// DefaultTokenBudget bounds assembled context. Tokens are approximated as
// whitespace-separated words.
const DefaultTokenBudget = 1500

// AssembleContext builds ranked context segments from the conversation and
// search results, filtering quarantined and redundant content, and packs
// them into the token budget. Segments rank by relevance x quality weight.
func AssembleContext(s State, quarantine *Quarantine, budget int) []ContextSegment {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	var segments []ContextSegment
	seen := make(map[string]struct{})

	add := func(source, content string, relevance float64, quality string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if quarantine != nil && quarantine.Contains(s.ThreadID, content) {
			return
		}
		hash := ContentHash(content)
		if _, dup := seen[hash]; dup {
			return
		}
		seen[hash] = struct{}{}
		segments = append(segments, ContextSegment{
			Source:    source,
			Content:   content,
			Relevance: relevance,
			Quality:   quality,
			Hash:      hash,
		})
	}

	// Recent conversation turns, newest weighted highest.
	recent := s.RecentMessages(6)
	for i, m := range recent {
		relevance := 0.4 + 0.1*float64(i)
		quality := QualityMedium
		if m.Validated {
			quality = QualityHigh
		}
		add("conversation", string(m.Role)+": "+m.Content, relevance, quality)
	}

	// Search results scored by their retrieval relevance.
	if s.Results != nil {
		for _, r := range s.Results.Sources {
			quality := QualityMedium
			if r.Score >= 0.75 {
				quality = QualityHigh
			} else if r.Score < 0.5 {
				quality = QualityLow
			}
			add("search", "["+r.SourceLabel+"] "+r.Text, r.Score, quality)
		}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Relevance*QualityWeight(segments[i].Quality) >
			segments[j].Relevance*QualityWeight(segments[j].Quality)
	})

	var packed []ContextSegment
	used := 0
	for _, seg := range segments {
		if QualityWeight(seg.Quality) == 0 {
			continue
		}
		tokens := approxTokens(seg.Content)
		if used+tokens > budget {
			continue
		}
		packed = append(packed, seg)
		used += tokens
	}
	return packed
}

func approxTokens(content string) int {
	return len(strings.Fields(content))
}

// RenderContext formats segments for a synthesis prompt.
func RenderContext(segments []ContextSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
