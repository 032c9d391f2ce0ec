package search

// Confidence component weights.
const (
	confSimilarityWeight  = 0.50
	confDiversityWeight   = 0.30
	confConsistencyWeight = 0.15
	confBonusWeight       = 0.05

	// highQualityThreshold marks a result as high quality for the bonus.
	highQualityThreshold = 0.75

	// singleDocPenalty applies when more than two results all come from
	// one document.
	singleDocPenalty = 0.10
)

// ComputeConfidence scores the answer's supporting evidence in [0,1].
func ComputeConfidence(results []*Result) float64 {
	if len(results) == 0 {
		return 0
	}

	var simSum, divSum float64
	highQuality := 0
	docs := make(map[string]struct{}, len(results))
	for _, r := range results {
		simSum += r.Score
		divSum += r.DiversityScore
		docs[r.DocID] = struct{}{}
		if r.Score >= highQualityThreshold {
			highQuality++
		}
	}
	n := float64(len(results))
	avgSim := simSum / n
	avgDiv := divSum / n

	// Consistency rewards agreement among similarity scores.
	var variance float64
	for _, r := range results {
		d := r.Score - avgSim
		variance += d * d
	}
	consistency := 1 - variance/n
	if consistency < 0 {
		consistency = 0
	}

	bonus := 0.0
	if len(docs) >= 2 {
		bonus = 1
	}

	conf := confSimilarityWeight*avgSim +
		confDiversityWeight*avgDiv +
		confConsistencyWeight*consistency +
		confBonusWeight*bonus
	conf += 0.01 * float64(highQuality)
	if len(docs) == 1 && len(results) > 2 {
		conf -= singleDocPenalty
	}

	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// ConfidenceLevel buckets a confidence score for display.
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.7:
		return "high"
	case confidence >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
