package errors

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultLogInterval is the minimum gap between logged occurrences of the
// same error code. Bursts of identical failures (e.g., a provider outage
// during a large ingest) collapse into one log line plus a counter.
const DefaultLogInterval = 30 * time.Second

// DefaultMaxRecent bounds the recent-error ring kept for status reporting.
const DefaultMaxRecent = 50

// Tracker records errors from the orchestrators with rate-limited logging
// and bounded in-memory aggregation.
type Tracker struct {
	mu         sync.Mutex
	counts     map[string]int       // code -> total occurrences
	byCategory map[Category]int     // category -> total occurrences
	lastLogged map[string]time.Time // code -> last log emission
	recent     []TrackedError
	interval   time.Duration
	maxRecent  int
	logger     *slog.Logger
}

// TrackedError is one recorded error occurrence.
type TrackedError struct {
	Code      string
	Category  Category
	Component string
	Operation string
	Message   string
	At        time.Time
}

// NewTracker creates an error tracker logging through the given logger.
// A nil logger uses slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		counts:     make(map[string]int),
		byCategory: make(map[Category]int),
		lastLogged: make(map[string]time.Time),
		interval:   DefaultLogInterval,
		maxRecent:  DefaultMaxRecent,
		logger:     logger,
	}
}

// Record registers an error occurrence. Non-*Error values are recorded
// under ERR_501_INTERNAL. Logging is rate limited per code.
func (t *Tracker) Record(err error) {
	if err == nil {
		return
	}

	ce, ok := err.(*Error)
	if !ok {
		ce = Wrap(ErrCodeInternal, err)
	}

	now := time.Now()

	t.mu.Lock()
	t.counts[ce.Code]++
	t.byCategory[ce.Category]++
	total := t.counts[ce.Code]

	t.recent = append(t.recent, TrackedError{
		Code:      ce.Code,
		Category:  ce.Category,
		Component: ce.Component,
		Operation: ce.Operation,
		Message:   ce.Message,
		At:        now,
	})
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[len(t.recent)-t.maxRecent:]
	}

	last, seen := t.lastLogged[ce.Code]
	shouldLog := !seen || now.Sub(last) >= t.interval
	if shouldLog {
		t.lastLogged[ce.Code] = now
	}
	t.mu.Unlock()

	if shouldLog {
		t.logger.Warn("error recorded",
			slog.String("code", ce.Code),
			slog.String("category", string(ce.Category)),
			slog.String("component", ce.Component),
			slog.String("operation", ce.Operation),
			slog.String("message", ce.Message),
			slog.Int("total", total),
		)
	}
}

// Count returns the number of recorded occurrences for a code.
func (t *Tracker) Count(code string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[code]
}

// CategoryCount returns the number of recorded occurrences for a category.
func (t *Tracker) CategoryCount(cat Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byCategory[cat]
}

// Recent returns a copy of the bounded recent-error list, newest last.
func (t *Tracker) Recent() []TrackedError {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedError, len(t.recent))
	copy(out, t.recent)
	return out
}

// Total returns the total number of recorded errors.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}
