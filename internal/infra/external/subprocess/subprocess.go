package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"relay/internal/shared/logging"
)

// ExitCodeTimedOut is the synthetic exit code of a run stopped at its
// wall-clock ceiling.
const ExitCodeTimedOut = -1

const killWait = 5 * time.Second

// Command describes one external agent invocation.
type Command struct {
	Path string
	Args []string
	Env  map[string]string
	Dir  string
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v (dir=%s)", c.Path, c.Args, c.Dir)
}

// Supervisor spawns agent processes in their own process group.
type Supervisor struct {
	logger logging.Logger
	now    func() time.Time
}

// NewSupervisor builds a supervisor. A nil logger discards output.
func NewSupervisor(logger logging.Logger) *Supervisor {
	return &Supervisor{logger: logging.OrNop(logger), now: time.Now}
}

// Start spawns cmd. The returned process owns the read ends of its stdout
// and stderr pipes; they stay readable after the process is reaped so no
// buffered output is lost.
func (s *Supervisor) Start(ctx context.Context, cmd Command) (*Process, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if cmd.Path == "" {
		return nil, fmt.Errorf("start subprocess: empty command")
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	execCmd := exec.Command(cmd.Path, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = mergeEnv(os.Environ(), cmd.Env)
	execCmd.Stdout = stdoutW
	execCmd.Stderr = stderrW
	setProcAttr(execCmd)

	if err := execCmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("start subprocess: %w", err)
	}
	// The child holds its own copies of the write ends; readers see EOF once
	// every process in the group has closed them.
	closeAll(stdoutW, stderrW)

	p := &Process{
		cmd:       execCmd,
		pid:       execCmd.Process.Pid,
		stdout:    stdoutR,
		stderr:    stderrR,
		startedAt: s.now(),
		done:      make(chan struct{}),
		now:       s.now,
		logger:    s.logger,
		signal:    signalGroup,
	}
	go p.wait()

	s.logger.Info("Spawned agent pid=%d: %s", p.pid, cmd)
	return p, nil
}

// Process is a running or exited agent process.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	stdout    *os.File
	stderr    *os.File
	startedAt time.Time
	now       func() time.Time
	logger    logging.Logger
	signal    func(pgid int, sig syscall.Signal) error

	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
	exitedAt time.Time

	closeOnce     sync.Once
	outputsClosed atomic.Bool
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := exitCodeOf(p.cmd.ProcessState, err)

	p.mu.Lock()
	p.waitErr = err
	p.exitCode = code
	p.exitedAt = p.now()
	p.mu.Unlock()
	close(p.done)

	p.logger.Info("Agent pid=%d exited with code %d", p.pid, code)
}

// PID returns the process id, which is also its process group id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Stdout returns the read end of the stdout pipe.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the read end of the stderr pipe.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Poll reports, without blocking, whether the process has exited and with
// which code.
func (p *Process) Poll() (bool, int) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.exitCode
	default:
		return false, 0
	}
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	exited, _ := p.Poll()
	return exited
}

// ExitCode returns the exit code, or 0 while running.
func (p *Process) ExitCode() int {
	_, code := p.Poll()
	return code
}

// ExitedAt returns when the process was reaped, or the zero time.
func (p *Process) ExitedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitedAt
}

// Terminate sends SIGTERM to the process group, waits up to grace, then
// sends SIGKILL. It returns once the leader is reaped or the kill wait
// expires. Safe to call repeatedly and after exit. Once the leader is reaped
// the group is only signalled while the pipes are still open, since the pgid
// may otherwise already belong to an unrelated process.
func (p *Process) Terminate(grace time.Duration) error {
	if p.Exited() {
		p.reclaimGroup()
		return nil
	}

	p.logger.Info("Terminating agent pid=%d (grace %s)", p.pid, grace)
	if err := p.signal(p.pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("SIGTERM to pgid %d failed: %v", p.pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		p.reclaimGroup()
		return nil
	case <-timer.C:
	}

	p.logger.Warn("Agent pid=%d ignored SIGTERM for %s, sending SIGKILL", p.pid, grace)
	if err := p.signal(p.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", p.pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %d still running after SIGKILL", p.pid)
	}
}

// reclaimGroup kills children of a reaped leader that may still hold the
// pipes open.
func (p *Process) reclaimGroup() {
	if p.outputsClosed.Load() {
		return
	}
	_ = p.signal(p.pid, syscall.SIGKILL)
}

// CloseOutputs closes the read ends of both pipes, unblocking any reader
// still waiting on them.
func (p *Process) CloseOutputs() {
	p.closeOnce.Do(func() {
		p.outputsClosed.Store(true)
		closeAll(p.stdout, p.stderr)
	})
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(-pgid, sig)
}

func exitCodeOf(state *os.ProcessState, err error) int {
	if state == nil {
		if err != nil {
			return 1
		}
		return 0
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
