package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReaperFixture(t *testing.T) (*Engine, *fakeClock, *AgentRun, *fakeProc) {
	t.Helper()
	f := newEngineFixture(t, fastSettings(), "true")
	clock := newFakeClock()
	f.engine.now = clock.Now

	r := newAgentRun("run-reap", testChat, f.dir, "prompt", clock.Now(), 100, nil)
	require.NoError(t, f.engine.registry.Insert(r))
	proc := newFakeProc(clock.Now)
	r.attach(proc, clock.Now())
	return f.engine, clock, r, proc
}

func TestReapTerminatesRunPastCeiling(t *testing.T) {
	engine, clock, r, proc := newReaperFixture(t)

	assert.Zero(t, engine.Reap(clock.Now()))
	clock.Advance(engine.settings.Timeout + time.Millisecond)
	assert.Equal(t, 1, engine.Reap(clock.Now()))
	assert.True(t, r.TimedOut())
	require.Eventually(t, func() bool { return proc.terminations.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.Zero(t, engine.Reap(clock.Now()), "terminated twice")
	// Finalization stays with the consumer loop.
	assert.True(t, r.IsRunning())
	assert.Equal(t, 1, engine.registry.Len())
}

func TestReapClosesOutputsOfExitedRunAfterDrainGrace(t *testing.T) {
	engine, clock, r, proc := newReaperFixture(t)
	proc.exit(0)

	assert.Zero(t, engine.Reap(clock.Now()))
	clock.Advance(engine.settings.DrainGrace + time.Millisecond)
	assert.Equal(t, 1, engine.Reap(clock.Now()))
	assert.True(t, proc.closed.Load())
	assert.Equal(t, int32(1), proc.terminations.Load())
	assert.False(t, r.TimedOut())

	assert.Zero(t, engine.Reap(clock.Now()))
}

func TestReapReclaimsRunThatOutlivesEveryGrace(t *testing.T) {
	engine, clock, r, proc := newReaperFixture(t)
	proc.exitOn = false

	clock.Advance(engine.settings.Timeout + time.Millisecond)
	require.Equal(t, 1, engine.Reap(clock.Now()))
	require.Eventually(t, func() bool { return proc.terminations.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, proc.closed.Load())

	clock.Advance(engine.settings.GracePeriod + engine.settings.DrainGrace)
	assert.Equal(t, 1, engine.Reap(clock.Now()))
	assert.True(t, proc.closed.Load())
	assert.True(t, r.IsRunning())
}

func TestReapSkipsRunsWithoutProcess(t *testing.T) {
	f := newEngineFixture(t, fastSettings(), "true")
	r := newAgentRun("run-pending", testChat, f.dir, "prompt", time.Now().Add(-time.Hour), 100, nil)
	require.NoError(t, f.engine.registry.Insert(r))
	assert.Zero(t, f.engine.Reap(time.Now()))
}

func TestRunReaperStopsWithContext(t *testing.T) {
	f := newEngineFixture(t, fastSettings(), "true")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.RunReaper(ctx)
		close(done)
	}()
	time.Sleep(3 * f.engine.settings.ReapEvery)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
