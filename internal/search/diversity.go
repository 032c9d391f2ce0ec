package search

import (
	"sort"
	"strings"

	"github.com/corpora-ai/corpora/internal/store"
)

// Diversity component weights. Relevance is blended against the combined
// diversity score with the configured diversity weight.
const (
	docDiversityWeight      = 0.30
	sourceTypeWeight        = 0.20
	authorDiversityWeight   = 0.15
	temporalDiversityWeight = 0.10
	contentDiversityWeight  = 0.25
)

// ScoreDiversity computes each result's diversity score against the rest of
// the set and blends it with relevance into the final score.
// final = relevance x (1-w) + diversity x w.
func ScoreDiversity(results []*Result, weight float64) {
	n := len(results)
	if n == 0 {
		return
	}

	docCounts := make(map[string]int, n)
	typeCounts := make(map[string]int, n)
	authorCounts := make(map[string]int, n)
	monthCounts := make(map[string]int, n)
	tokenSets := make([]map[string]struct{}, n)
	for i, r := range results {
		docCounts[r.DocID]++
		typeCounts[r.SourceType]++
		authorCounts[r.Author]++
		monthCounts[createdMonth(r.CreatedDate)]++
		tokenSets[i] = tokenSet(r.Text)
	}

	total := float64(n)
	for i, r := range results {
		docDiv := 1 - float64(docCounts[r.DocID])/total
		typeDiv := 1 - float64(typeCounts[r.SourceType])/total
		authorDiv := 1 - float64(authorCounts[r.Author])/total
		temporalDiv := 1 - float64(monthCounts[createdMonth(r.CreatedDate)])/total
		contentDiv := contentDiversity(tokenSets, i)

		r.DiversityScore = docDiversityWeight*docDiv +
			sourceTypeWeight*typeDiv +
			authorDiversityWeight*authorDiv +
			temporalDiversityWeight*temporalDiv +
			contentDiversityWeight*contentDiv

		relevance := r.WeightedScore
		if r.RerankScore > 0 {
			relevance = r.RerankScore
		}
		r.FinalScore = relevance*(1-weight) + r.DiversityScore*weight
	}
}

// contentDiversity is one minus the average Jaccard word overlap with the
// other results in the set.
func contentDiversity(sets []map[string]struct{}, i int) float64 {
	if len(sets) <= 1 {
		return 1
	}
	var sum float64
	for j, other := range sets {
		if j == i {
			continue
		}
		sum += jaccard(sets[i], other)
	}
	return 1 - sum/float64(len(sets)-1)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	tokens := store.FilterStopWords(store.TokenizeText(text), store.DefaultStopWordMap())
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func createdMonth(date string) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return date
}

// SelectDiverse walks results by descending final score and admits one when
// it introduces an unseen document, source type or author, or its document
// is still under the per-document chunk cap. Stops once topK are admitted;
// the selection stays ranked by final score.
func SelectDiverse(results []*Result, topK, maxChunksPerDoc int) []*Result {
	if topK <= 0 || len(results) == 0 {
		return nil
	}

	ordered := make([]*Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].FinalScore > ordered[j].FinalScore })

	seenDocs := make(map[string]int)
	seenTypes := make(map[string]struct{})
	seenAuthors := make(map[string]struct{})
	var selected []*Result
	for _, r := range ordered {
		if len(selected) >= topK {
			break
		}
		_, docSeen := seenDocs[r.DocID]
		_, typeSeen := seenTypes[r.SourceType]
		_, authorSeen := seenAuthors[r.Author]
		underCap := seenDocs[r.DocID] < maxChunksPerDoc

		if !docSeen || !typeSeen || !authorSeen || underCap {
			selected = append(selected, r)
			seenDocs[r.DocID]++
			seenTypes[r.SourceType] = struct{}{}
			seenAuthors[r.Author] = struct{}{}
		}
	}
	return selected
}

// ComputeMetrics summarises the diversity of a selected result set.
func ComputeMetrics(results []*Result, minSourceTypes int) DiversityMetrics {
	if len(results) == 0 {
		return DiversityMetrics{}
	}

	docs := make(map[string]struct{})
	types := make(map[string]struct{})
	authors := make(map[string]struct{})
	var divSum float64
	for _, r := range results {
		docs[r.DocID] = struct{}{}
		types[r.SourceType] = struct{}{}
		if strings.TrimSpace(r.Author) != "" {
			authors[r.Author] = struct{}{}
		}
		divSum += r.DiversityScore
	}

	coverage := 1.0
	if minSourceTypes > 0 && len(types) < minSourceTypes {
		coverage = float64(len(types)) / float64(minSourceTypes)
	}

	return DiversityMetrics{
		UniqueDocuments:   len(docs),
		UniqueSourceTypes: len(types),
		UniqueAuthors:     len(authors),
		DiversityIndex:    divSum / float64(len(results)),
		CoverageScore:     coverage,
	}
}
