package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain/run"
)

func testRun(id string, chat run.ChatContext, startedAt time.Time) *AgentRun {
	return newAgentRun(id, chat, "/tmp/project", "prompt", startedAt, 100, nil)
}

func TestRegistryAllowsOneRunningRunPerChat(t *testing.T) {
	reg := NewRegistry()
	start := time.Now()
	first := testRun("run-1", testChat, start)
	require.NoError(t, reg.Insert(first))

	err := reg.Insert(testRun("run-2", testChat, start))
	assert.ErrorIs(t, err, run.ErrRunInProgress)

	thread := run.ChatContext{ChatID: testChat.ChatID, ThreadID: 7}
	require.NoError(t, reg.Insert(testRun("run-3", thread, start.Add(time.Second))))
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.IsRunning(testChat))
	assert.True(t, reg.IsRunning(thread))
}

func TestRegistryReplacesTerminalEntry(t *testing.T) {
	reg := NewRegistry()
	first := testRun("run-1", testChat, time.Now())
	require.NoError(t, reg.Insert(first))
	first.setState(run.StateCompleted)
	assert.False(t, reg.IsRunning(testChat))

	second := testRun("run-2", testChat, time.Now())
	require.NoError(t, reg.Insert(second))

	// A stale remove must not evict the newer run.
	reg.Remove(first)
	got, ok := reg.Get(testChat)
	require.True(t, ok)
	assert.Same(t, second, got)

	reg.Remove(second)
	assert.Zero(t, reg.Len())
}

func TestRegistrySnapshotOrdersByStart(t *testing.T) {
	reg := NewRegistry()
	start := time.Now()
	late := testRun("late", run.ChatContext{ChatID: 1}, start.Add(time.Minute))
	early := testRun("early", run.ChatContext{ChatID: 2}, start)
	require.NoError(t, reg.Insert(late))
	require.NoError(t, reg.Insert(early))

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "early", snapshot[0].ID)
	assert.Equal(t, "late", snapshot[1].ID)
}

func TestAgentRunStateIsStickyOnceTerminal(t *testing.T) {
	r := testRun("run-1", testChat, time.Now())
	r.setState(run.StateTimedOut)
	r.setState(run.StateCompleted)
	assert.Equal(t, run.StateTimedOut, r.State())
	assert.True(t, r.claimFinalize())
	assert.False(t, r.claimFinalize())
	assert.True(t, r.markTimedOut())
	assert.False(t, r.markTimedOut())
}
