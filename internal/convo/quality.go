package convo

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
)

// poisoningPatterns match content that tries to rewrite the assistant's role
// or deny capabilities it has.
var poisoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(you are now|act as|pretend to be|your new role is|from now on you)\b`),
	regexp.MustCompile(`(?i)\b(ignore (all |your )?(previous |prior )?instructions)\b`),
	regexp.MustCompile(`(?i)\b(i (cannot|can't|am unable to) (search|access|read) (documents|files|the index))\b`),
	regexp.MustCompile(`(?i)\b(there (are|is) no documents? (available|indexed|loaded))\b`),
	regexp.MustCompile(`(?i)\b(disregard the (context|sources|documents))\b`),
}

// contradictionMarkers flag content that reverses a validated statement.
var contradictionMarkers = []string{
	"actually, the opposite is true",
	"that was wrong",
	"contrary to what was said",
}

// Quarantine tracks content hashes flagged as poisoned, per thread.
type Quarantine struct {
	mu     sync.Mutex
	hashes map[string]map[string]struct{} // threadID -> content hash set
}

// NewQuarantine creates an empty quarantine set.
func NewQuarantine() *Quarantine {
	return &Quarantine{hashes: make(map[string]map[string]struct{})}
}

// Add quarantines content for a thread.
func (q *Quarantine) Add(threadID, content string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.hashes[threadID]
	if !ok {
		set = make(map[string]struct{})
		q.hashes[threadID] = set
	}
	set[ContentHash(content)] = struct{}{}
}

// Contains reports whether the content is quarantined for the thread.
func (q *Quarantine) Contains(threadID, content string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.hashes[threadID]
	if !ok {
		return false
	}
	_, found := set[ContentHash(content)]
	return found
}

// Count returns the quarantined entry count for a thread.
func (q *Quarantine) Count(threadID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hashes[threadID])
}

// Drop clears a thread's quarantine set.
func (q *Quarantine) Drop(threadID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.hashes, threadID)
}

// ContentHash is the MD5 identity used for quarantine and redundancy checks.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(strings.ToLower(content))))
	return hex.EncodeToString(sum[:])
}

// DetectPoisoning reports whether content matches a poisoning pattern or
// contradicts a validated prior statement.
func DetectPoisoning(content string, validated []Message) bool {
	for _, pat := range poisoningPatterns {
		if pat.MatchString(content) {
			return true
		}
	}
	lower := strings.ToLower(content)
	for _, marker := range contradictionMarkers {
		if strings.Contains(lower, marker) && len(validated) > 0 {
			return true
		}
	}
	return false
}

// ContextQuality derives the overall quality tag for a state.
// Poisoned and conflicted dominate; otherwise quality follows
// avg message quality degraded by the error rate.
func ContextQuality(s State, quarantine *Quarantine) string {
	if quarantine != nil {
		for _, m := range s.Messages {
			if quarantine.Contains(s.ThreadID, m.Content) {
				return QualityPoisoned
			}
		}
	}
	if s.Conflicts > 2 {
		return QualityConflicted
	}

	score := s.AvgMessageQuality() * (1 - s.ErrorRate())
	switch {
	case score >= 0.7:
		return QualityHigh
	case score >= 0.4:
		return QualityMedium
	default:
		return QualityLow
	}
}

// QualityWeight maps a quality tag to its context assembly weight.
func QualityWeight(tag string) float64 {
	switch tag {
	case QualityHigh:
		return 1.0
	case QualityMedium:
		return 0.7
	case QualityLow:
		return 0.4
	case QualityConflicted:
		return 0.2
	case QualityPoisoned:
		return 0.0
	default:
		return 0.4
	}
}
