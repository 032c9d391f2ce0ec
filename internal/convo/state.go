// Package convo implements threaded conversations over the query engine: a
// directed node graph driving each turn, response validation, context
// quality tracking with poisoning quarantine, and a thread manager.
package convo

import (
	"time"

	"github.com/corpora-ai/corpora/internal/search"
)

// Phase is the conversation graph's current position.
type Phase string

const (
	PhaseGreeting      Phase = "greeting"
	PhaseUnderstanding Phase = "understanding"
	PhaseSearching     Phase = "searching"
	PhaseResponding    Phase = "responding"
	PhaseValidating    Phase = "validating"
	PhaseClarifying    Phase = "clarifying"
	PhaseEnding        Phase = "ending"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Quality tags for context segments and overall context quality.
const (
	QualityHigh       = "high"
	QualityMedium     = "medium"
	QualityLow        = "low"
	QualityConflicted = "conflicted"
	QualityPoisoned   = "poisoned"
)

// MaxMessages bounds the per-thread message list. Older messages fall off
// the front.
const MaxMessages = 20

// Message is one conversation turn.
type Message struct {
	Role       Role
	Content    string
	Timestamp  time.Time
	Confidence float64 // [0,1]
	Validated  bool
	Quality    float64 // [0,1]
}

// ContextSegment is one assembled piece of context for a response.
type ContextSegment struct {
	Source    string // conversation, search, system
	Content   string
	Relevance float64
	Quality   string // quality tag
	Hash      string // MD5 of content, for redundancy filtering
}

// State carries everything a conversation thread knows. It is passed by
// value between graph nodes; a node returns the updated copy, so an
// aborted turn leaves the stored state untouched.
type State struct {
	ThreadID  string
	Messages  []Message
	TurnCount int
	Phase     Phase

	OriginalQuery  string
	ProcessedQuery string
	Analysis       *search.Analysis
	Results        *search.Response

	Segments  []ContextSegment
	Errors    []string
	Conflicts int

	CreatedAt  time.Time
	LastActive time.Time
}

// NewState creates a fresh conversation state.
func NewState(threadID string) State {
	now := time.Now()
	return State{
		ThreadID:   threadID,
		Phase:      PhaseGreeting,
		CreatedAt:  now,
		LastActive: now,
	}
}

// AppendMessage adds a message, dropping the oldest beyond the bound. The
// receiver is a value; the caller keeps the returned state.
func (s State) AppendMessage(msg Message) State {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	// Copy-on-append keeps earlier state values independent.
	msgs := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	msgs = append(msgs, msg)
	if len(msgs) > MaxMessages {
		msgs = msgs[len(msgs)-MaxMessages:]
	}
	s.Messages = msgs
	if msg.Role == RoleUser {
		s.TurnCount++
	}
	s.LastActive = time.Now()
	return s
}

// RecentMessages returns up to n most recent messages, oldest first.
func (s State) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	return s.Messages[len(s.Messages)-n:]
}

// LastUserMessage returns the most recent user message, or nil.
func (s State) LastUserMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return &s.Messages[i]
		}
	}
	return nil
}

// ValidatedAssistantMessages returns assistant messages that passed
// validation, oldest first.
func (s State) ValidatedAssistantMessages() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == RoleAssistant && m.Validated {
			out = append(out, m)
		}
	}
	return out
}

// AvgMessageQuality averages quality over scored messages.
func (s State) AvgMessageQuality() float64 {
	var sum float64
	n := 0
	for _, m := range s.Messages {
		if m.Quality > 0 {
			sum += m.Quality
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// ErrorRate is errors per user turn.
func (s State) ErrorRate() float64 {
	if s.TurnCount == 0 {
		return 0
	}
	rate := float64(len(s.Errors)) / float64(s.TurnCount)
	if rate > 1 {
		return 1
	}
	return rate
}
