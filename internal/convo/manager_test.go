package convo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, engine QueryRunner) *Manager {
	t.Helper()
	g := newTestGraph(t, engine, nil)
	m := NewManager(g, time.Minute)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_StartCreatesThread(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})

	res := m.Start()
	assert.NotEmpty(t, res.ThreadID)
	assert.Contains(t, res.Response, "Hello")
	assert.Equal(t, PhaseGreeting, res.Phase)
	assert.NotEmpty(t, res.Suggestions)
	assert.Equal(t, 1, m.ThreadCount())

	// Thread IDs are unique.
	res2 := m.Start()
	assert.NotEqual(t, res.ThreadID, res2.ThreadID)
	assert.Equal(t, 2, m.ThreadCount())
}

func TestManager_SendAdvancesState(t *testing.T) {
	engine := &fakeEngine{fallback: groundedResponse("q", "The uplink speed is 10G.", "The uplink speed is 10G on the core switch.")}
	m := newTestManager(t, engine)
	ctx := context.Background()

	res := m.Start()
	first, err := m.Send(ctx, res.ThreadID, "what is the uplink speed")
	require.NoError(t, err)
	assert.Equal(t, 1, first.TurnCount)
	assert.Equal(t, "The uplink speed is 10G.", first.Response)

	second, err := m.Send(ctx, res.ThreadID, "what is the uplink speed again")
	require.NoError(t, err)
	assert.Equal(t, 2, second.TurnCount)
}

func TestManager_SendUnknownThread(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	_, err := m.Send(context.Background(), "no-such-thread", "hello")
	require.Error(t, err)
}

func TestManager_GoodbyeRemovesThread(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	res := m.Start()

	out, err := m.Send(context.Background(), res.ThreadID, "goodbye")
	require.NoError(t, err)
	assert.Equal(t, PhaseEnding, out.Phase)
	assert.Equal(t, 0, m.ThreadCount())
}

func TestManager_PruneIdle(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	m.Start()
	m.Start()
	assert.Equal(t, 2, m.ThreadCount())

	// Nothing is stale yet.
	assert.Equal(t, 0, m.pruneIdle(time.Now()))

	pruned := m.pruneIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 2, pruned)
	assert.Equal(t, 0, m.ThreadCount())
}

func TestManager_FailedTurnLeavesStateIntact(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	res := m.Start()

	_, err := m.Send(context.Background(), res.ThreadID, "   ")
	require.Error(t, err)

	// The empty message did not join the thread.
	m.mu.Lock()
	th := m.threads[res.ThreadID]
	m.mu.Unlock()
	assert.Equal(t, 0, th.state.TurnCount)
	assert.Len(t, th.state.Messages, 1)
}
