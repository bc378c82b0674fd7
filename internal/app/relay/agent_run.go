package relay

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"relay/internal/domain/run"
	"relay/internal/shared/logging"
)

// processHandle is the supervisor surface a run depends on.
type processHandle interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	Poll() (bool, int)
	Exited() bool
	ExitedAt() time.Time
	Terminate(grace time.Duration) error
	CloseOutputs()
}

// AgentRun is one invocation of the external agent for a chat context.
type AgentRun struct {
	ID         string
	Chat       run.ChatContext
	WorkingDir string
	Prompt     string

	logger logging.Logger
	acc    *Accumulator

	mu        sync.Mutex
	state     run.State
	startedAt time.Time
	proc      processHandle

	timedOut  atomic.Bool
	killed    atomic.Bool
	reclaimed atomic.Bool
	finalized atomic.Bool
}

func newAgentRun(id string, chat run.ChatContext, workdir, prompt string, startedAt time.Time, tailLimit int, logger logging.Logger) *AgentRun {
	return &AgentRun{
		ID:         id,
		Chat:       chat,
		WorkingDir: workdir,
		Prompt:     prompt,
		logger:     logging.OrNop(logger),
		acc:        NewAccumulator(tailLimit),
		state:      run.StateRunning,
		startedAt:  startedAt,
	}
}

func (r *AgentRun) attach(proc processHandle, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = proc
	r.startedAt = startedAt
}

func (r *AgentRun) process() processHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc
}

// StartedAt is the spawn time used for the wall-clock ceiling.
func (r *AgentRun) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// State returns the current lifecycle state.
func (r *AgentRun) State() run.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *AgentRun) setState(state run.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = state
}

// IsRunning reports whether the run has not reached a terminal state.
func (r *AgentRun) IsRunning() bool {
	return r.State() == run.StateRunning
}

// markTimedOut flips the timeout flag once; it reports whether this call did.
func (r *AgentRun) markTimedOut() bool {
	return r.timedOut.CompareAndSwap(false, true)
}

// TimedOut reports whether the wall-clock ceiling stopped the run.
func (r *AgentRun) TimedOut() bool {
	return r.timedOut.Load()
}

func (r *AgentRun) claimFinalize() bool {
	return r.finalized.CompareAndSwap(false, true)
}

// Summary returns a read-only view for listings.
func (r *AgentRun) Summary(now time.Time) run.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid := 0
	if r.proc != nil {
		pid = r.proc.PID()
	}
	return run.Summary{
		ID:         r.ID,
		Chat:       r.Chat,
		WorkingDir: r.WorkingDir,
		PID:        pid,
		State:      r.state,
		StartedAt:  r.startedAt,
		Elapsed:    now.Sub(r.startedAt),
		OutputLen:  r.acc.Len(),
	}
}
