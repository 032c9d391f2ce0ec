package convo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corpora-ai/corpora/internal/errors"
	"github.com/corpora-ai/corpora/internal/search"
)

const (
	// DefaultIdleTimeout prunes threads with no activity.
	DefaultIdleTimeout = 30 * time.Minute

	// pruneInterval is how often the sweeper scans for idle threads.
	pruneInterval = 5 * time.Minute
)

// thread pairs a state with its lock. Turns within a thread are strictly
// sequential; different threads proceed concurrently.
type thread struct {
	mu    sync.Mutex
	state State
}

// Manager owns conversation threads: creation, per-thread serialisation,
// and idle pruning.
type Manager struct {
	graph       *Graph
	idleTimeout time.Duration

	mu      sync.Mutex
	threads map[string]*thread

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a thread manager over the graph.
func NewManager(graph *Graph, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		graph:       graph,
		idleTimeout: idleTimeout,
		threads:     make(map[string]*thread),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go m.pruneLoop()
	return m
}

// StartResult is the outcome of opening a conversation.
type StartResult struct {
	ThreadID    string
	Response    string
	TurnCount   int
	Phase       Phase
	Suggestions []string
}

// Start opens a new conversation thread.
func (m *Manager) Start() *StartResult {
	id := uuid.NewString()
	turn := m.graph.Start(id)

	m.mu.Lock()
	m.threads[id] = &thread{state: turn.State}
	m.mu.Unlock()

	return &StartResult{
		ThreadID:    id,
		Response:    turn.Response,
		TurnCount:   turn.State.TurnCount,
		Phase:       turn.State.Phase,
		Suggestions: turn.Suggestions,
	}
}

// MessageResult is the outcome of one message.
type MessageResult struct {
	ThreadID    string
	Response    string
	Sources     []*search.Result
	Suggestions []string
	TurnCount   int
	Phase       Phase
}

// Send processes a message on a thread. Messages on the same thread are
// serialised; the stored state only advances when the turn completes.
func (m *Manager) Send(ctx context.Context, threadID, text string) (*MessageResult, error) {
	m.mu.Lock()
	th, ok := m.threads[threadID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.ValidationError("unknown conversation thread", nil).WithDetail("thread_id", threadID)
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	turn, err := m.graph.Process(ctx, th.state, text)
	if err != nil {
		return nil, err
	}
	th.state = turn.State

	if turn.State.Phase == PhaseEnding {
		m.remove(threadID)
	}

	return &MessageResult{
		ThreadID:    threadID,
		Response:    turn.Response,
		Sources:     turn.Sources,
		Suggestions: turn.Suggestions,
		TurnCount:   turn.State.TurnCount,
		Phase:       turn.State.Phase,
	}, nil
}

// ThreadCount returns the live thread count.
func (m *Manager) ThreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

func (m *Manager) remove(threadID string) {
	m.mu.Lock()
	delete(m.threads, threadID)
	m.mu.Unlock()
	m.graph.Quarantine().Drop(threadID)
}

func (m *Manager) pruneLoop() {
	defer close(m.done)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pruneIdle(time.Now())
		}
	}
}

// pruneIdle drops threads whose last activity is older than the timeout.
func (m *Manager) pruneIdle(now time.Time) int {
	m.mu.Lock()
	var stale []string
	for id, th := range m.threads {
		if now.Sub(th.state.LastActive) > m.idleTimeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.threads, id)
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.graph.Quarantine().Drop(id)
	}
	if len(stale) > 0 {
		slog.Info("pruned idle conversation threads", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Close stops the prune sweeper.
func (m *Manager) Close() error {
	close(m.stop)
	<-m.done
	return nil
}
