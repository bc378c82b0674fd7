package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCollectsOutputAndExitCode(t *testing.T) {
	out, err := NewSupervisor(nil).Run(context.Background(), shell("printf out; printf err >&2; exit 2"), time.Second)
	require.NoError(t, err)

	assert.Equal(t, "out", string(out.Stdout))
	assert.Equal(t, "err", string(out.Stderr))
	assert.Equal(t, 2, out.ExitCode)
	assert.False(t, out.TimedOut)
}

func TestRunStopsAtContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	started := time.Now()
	out, err := NewSupervisor(nil).Run(ctx, shell("printf partial; sleep 10"), 500*time.Millisecond)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.True(t, out.TimedOut)
	assert.Equal(t, ExitCodeTimedOut, out.ExitCode)
	assert.Equal(t, "partial", string(out.Stdout))
}

func TestRunReclaimsChildrenHoldingThePipes(t *testing.T) {
	started := time.Now()
	out, err := NewSupervisor(nil).Run(context.Background(), shell("sleep 10 & printf done"), 300*time.Millisecond)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, "done", string(out.Stdout))
	assert.Zero(t, out.ExitCode)
}
