package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corpora-ai/corpora/internal/llm"
	"github.com/corpora-ai/corpora/internal/search"
)

// QueryRunner is the slice of the query engine the graph needs.
type QueryRunner interface {
	Query(ctx context.Context, query string, opts search.QueryOptions) (*search.Response, error)
}

// QueryAnalyzer produces the per-turn analysis.
type QueryAnalyzer interface {
	Analyze(ctx context.Context, query string) *search.Analysis
}

// enhancementHistoryTurns bounds the messages included when resolving
// contextual references.
const enhancementHistoryTurns = 5

const greetingText = "Hello! Ask me about your documents, tickets, or anything in the knowledge base."

const safeResponseText = "I'm not confident in the context gathered for this conversation, so I'd rather not answer than risk misleading you. Could you rephrase or start a fresh thread?"

const fallbackResponseText = "I found some material but could not produce a reliable answer. The most relevant sources are listed; please refine the question if they miss the mark."

// Graph drives a conversation turn through the node sequence
// understand -> search -> respond, with validation before the response is
// committed to the state.
type Graph struct {
	engine     QueryRunner
	analyzer   QueryAnalyzer
	gateway    search.Generator
	quarantine *Quarantine
}

// NewGraph creates a conversation graph. gateway may be nil; contextual
// enhancement then degrades to the raw query.
func NewGraph(engine QueryRunner, analyzer QueryAnalyzer, gateway search.Generator, quarantine *Quarantine) *Graph {
	if quarantine == nil {
		quarantine = NewQuarantine()
	}
	return &Graph{engine: engine, analyzer: analyzer, gateway: gateway, quarantine: quarantine}
}

// Quarantine exposes the graph's poisoning quarantine.
func (g *Graph) Quarantine() *Quarantine { return g.quarantine }

// Turn is the outcome of one processed message.
type Turn struct {
	State       State
	Response    string
	Sources     []*search.Result
	Suggestions []string
}

// Start runs initialize -> greet and returns the opening state.
func (g *Graph) Start(threadID string) Turn {
	state := NewState(threadID)
	state = state.AppendMessage(Message{Role: RoleAssistant, Content: greetingText, Validated: true, Quality: 1})
	state.Phase = PhaseGreeting
	return Turn{State: state, Response: greetingText, Suggestions: starterSuggestions()}
}

// Process runs one user message through the graph. The input state is
// passed by value; on error the caller's stored state is unchanged.
func (g *Graph) Process(ctx context.Context, state State, input string) (Turn, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Turn{}, fmt.Errorf("empty message")
	}

	// Incoming content is screened before it joins the state.
	poisoned := DetectPoisoning(input, state.ValidatedAssistantMessages())
	if poisoned {
		g.quarantine.Add(state.ThreadID, input)
		slog.Warn("poisoned content quarantined", slog.String("thread_id", state.ThreadID))
	}

	state = state.AppendMessage(Message{Role: RoleUser, Content: input, Quality: 0.8})
	state.OriginalQuery = input

	// A quarantined message never reaches the analyzer, the engine, or an
	// LLM prompt; the turn ends with the safe response.
	if poisoned {
		return g.respondSafe(state), nil
	}

	state = g.understand(ctx, state)

	switch state.Analysis.Intent {
	case search.IntentGoodbye:
		return g.end(state), nil
	case search.IntentGreeting, search.IntentHelp:
		return g.respondDirect(state), nil
	}

	var err error
	state, err = g.search(ctx, state)
	if err != nil {
		state.Errors = append(state.Errors, err.Error())
		return g.respondError(state), nil
	}
	return g.respond(ctx, state), nil
}

// understand analyses the query and resolves contextual references against
// recent history.
func (g *Graph) understand(ctx context.Context, state State) State {
	state.Phase = PhaseUnderstanding
	state.Analysis = g.analyzer.Analyze(ctx, state.OriginalQuery)
	state.ProcessedQuery = state.OriginalQuery

	if state.Analysis.Contextual && g.gateway != nil && len(state.Messages) > 1 {
		if enhanced := g.enhanceQuery(ctx, state); enhanced != "" {
			state.ProcessedQuery = enhanced
		}
	}
	return state
}

func (g *Graph) enhanceQuery(ctx context.Context, state State) string {
	var b strings.Builder
	b.WriteString("Rewrite the final user question so it is self-contained, resolving references like \"it\" or \"that\" against the conversation. Reply with only the rewritten question.\n\n")
	for _, m := range g.promptHistory(state, enhancementHistoryTurns) {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", state.OriginalQuery)

	resp, err := g.gateway.Generate(ctx, llm.Request{Prompt: b.String(), MaxTokens: 200, Temperature: -1})
	if err != nil {
		slog.Warn("contextual enhancement failed", slog.String("error", err.Error()))
		return ""
	}
	enhanced := strings.TrimSpace(resp.Text)
	if enhanced == "" || len(enhanced) > 4*len(state.OriginalQuery)+200 {
		return ""
	}
	return enhanced
}

// search runs retrieval, choosing the person strategy for person-entity
// queries.
func (g *Graph) search(ctx context.Context, state State) (State, error) {
	state.Phase = PhaseSearching

	// Only low quality bypasses the similarity threshold. Poisoned and
	// conflicted states answer with the safe response regardless of what
	// retrieval returns, so widening their result set buys nothing.
	bypass := ContextQuality(state, g.quarantine) == QualityLow
	opts := search.QueryOptions{
		BypassThreshold: bypass,
		History:         renderHistory(g.promptHistory(state, enhancementHistoryTurns)),
	}

	if state.Analysis.EntityType == "person" && len(state.Analysis.ScopeTargets) > 0 {
		resp, err := g.personSearch(ctx, state.Analysis.ScopeTargets[0], opts)
		if err != nil {
			return state, err
		}
		state.Results = resp
		return state, nil
	}

	resp, err := g.engine.Query(ctx, state.ProcessedQuery, opts)
	if err != nil {
		return state, err
	}
	state.Results = resp
	return state, nil
}

// personSearch tries each person strategy and keeps the response whose
// results score highest for the person.
func (g *Graph) personSearch(ctx context.Context, name string, opts search.QueryOptions) (*search.Response, error) {
	var best *search.Response
	bestScore := -1.0
	for _, query := range PersonSearchStrategies(name) {
		resp, err := g.engine.Query(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		score := PersonRelevance(name, resp.Sources)
		if score > bestScore {
			best, bestScore = resp, score
		}
	}
	return best, nil
}

// respond picks a response path, validates it, and commits the turn.
func (g *Graph) respond(ctx context.Context, state State) Turn {
	state.Phase = PhaseResponding

	quality := ContextQuality(state, g.quarantine)
	var response string
	switch {
	case quality == QualityPoisoned || quality == QualityConflicted:
		response = safeResponseText
	case state.Analysis.EntityType == "person" && len(state.Analysis.ScopeTargets) > 0 && state.Results != nil:
		info := ExtractPersonInfo(state.Analysis.ScopeTargets[0], state.Results.Sources)
		response = info.Render()
	case state.Results != nil:
		// Decomposed and standard paths both arrive here; the engine
		// already synthesised across sub-queries when needed.
		response = state.Results.Answer
	default:
		response = fallbackResponseText
	}

	state.Phase = PhaseValidating
	var sources []*search.Result
	confidence := 0.5
	if state.Results != nil {
		sources = state.Results.Sources
		confidence = state.Results.Confidence
	}
	validation := ValidateResponse(state.ProcessedQuery, response, sources, state.ValidatedAssistantMessages())
	if !validation.Pass && response != safeResponseText {
		slog.Debug("response failed validation, substituting fallback",
			slog.String("thread_id", state.ThreadID),
			slog.Float64("confidence", validation.Confidence))
		response = fallbackResponseText
	}

	state = state.AppendMessage(Message{
		Role:       RoleAssistant,
		Content:    response,
		Confidence: confidence,
		Validated:  validation.Pass,
		Quality:    validation.Confidence,
	})
	state.Phase = PhaseResponding
	state.Segments = AssembleContext(state, g.quarantine, DefaultTokenBudget)

	return Turn{
		State:       state,
		Response:    response,
		Sources:     sources,
		Suggestions: followUpSuggestions(state),
	}
}

// respondDirect handles greeting and help intents without retrieval.
func (g *Graph) respondDirect(state State) Turn {
	state.Phase = PhaseResponding
	var response string
	switch state.Analysis.Intent {
	case search.IntentHelp:
		response = "I answer questions from your ingested documents and tickets. Try asking about a topic, a person, or \"how many tickets were opened last month\"."
	default:
		response = greetingText
	}
	state = state.AppendMessage(Message{Role: RoleAssistant, Content: response, Validated: true, Quality: 1})
	return Turn{State: state, Response: response, Suggestions: starterSuggestions()}
}

// respondSafe answers a quarantined turn without retrieval.
func (g *Graph) respondSafe(state State) Turn {
	state.Phase = PhaseResponding
	state = state.AppendMessage(Message{Role: RoleAssistant, Content: safeResponseText, Quality: 0.5})
	state.Segments = AssembleContext(state, g.quarantine, DefaultTokenBudget)
	return Turn{State: state, Response: safeResponseText}
}

// promptHistory returns recent messages with quarantined content removed.
func (g *Graph) promptHistory(state State, n int) []Message {
	recent := state.RecentMessages(n)
	out := make([]Message, 0, len(recent))
	for _, m := range recent {
		if g.quarantine.Contains(state.ThreadID, m.Content) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (g *Graph) respondError(state State) Turn {
	state.Phase = PhaseResponding
	response := "Something went wrong while searching. Please try again."
	state = state.AppendMessage(Message{Role: RoleAssistant, Content: response, Quality: 0.3})
	return Turn{State: state, Response: response}
}

func (g *Graph) end(state State) Turn {
	state.Phase = PhaseEnding
	response := "Goodbye! Start a new conversation any time."
	state = state.AppendMessage(Message{Role: RoleAssistant, Content: response, Validated: true, Quality: 1})
	return Turn{State: state, Response: response}
}

func renderHistory(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, string(m.Role)+": "+m.Content)
	}
	return out
}

func starterSuggestions() []string {
	return []string{
		"What topics are covered in the knowledge base?",
		"How many tickets were opened last month?",
		"Summarize the most recent outage.",
	}
}

// followUpSuggestions derives next questions from the answered turn.
func followUpSuggestions(state State) []string {
	if state.Results == nil || len(state.Results.Sources) == 0 {
		return []string{"Try rephrasing with more specific terms."}
	}
	suggestions := []string{"Tell me more about " + topKeyword(state)}
	if state.Results.Diversity.UniqueDocuments > 1 {
		suggestions = append(suggestions, "Which source is most reliable for this?")
	}
	return suggestions
}

func topKeyword(state State) string {
	if state.Analysis != nil && len(state.Analysis.Keywords) > 0 {
		return state.Analysis.Keywords[0]
	}
	return "this topic"
}
