package workbench

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/infra/external/subprocess"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestExecutorCommandPicksInterpreter(t *testing.T) {
	e := NewExecutor(ExecConfig{Python: "python3.12"}, nil, nil)

	cmd, err := e.Command("/p/app.py", []string{"--n", "2"})
	require.NoError(t, err)
	assert.Equal(t, "python3.12", cmd.Path)
	assert.Equal(t, []string{"/p/app.py", "--n", "2"}, cmd.Args)

	cmd, err = e.Command("/p/build.SH", nil)
	require.NoError(t, err)
	assert.Equal(t, "bash", cmd.Path)

	cmd, err = e.Command("/p/tool.exe", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "/p/tool.exe", cmd.Path)
	assert.Equal(t, []string{"x"}, cmd.Args)

	_, err = e.Command("/p/notes.txt", nil)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestExecutorRunSavesResults(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "greet.sh", "echo \"hello $1 from $(basename \"$PWD\")\"\necho oops >&2\nexit 3\n")

	result, err := NewExecutor(ExecConfig{}, nil, nil).Run(context.Background(), dir, script, []string{"world wide"})
	require.NoError(t, err)

	assert.Equal(t, "hello world wide from "+filepath.Base(dir)+"\n", result.Stdout)
	assert.Equal(t, "oops\n", result.Stderr)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, filepath.Join(dir, "results.txt"), result.ResultsPath)

	saved, err := os.ReadFile(result.ResultsPath)
	require.NoError(t, err)
	assert.Equal(t, "--- STDOUT ---\n"+result.Stdout+"\n--- STDERR ---\noops\n", string(saved))

	report := result.Report()
	assert.Contains(t, report, "**Output:**\n```\nhello world wide")
	assert.Contains(t, report, "**Errors:**\n```\noops\n```")
	assert.Contains(t, report, "Exit code: 3")
	assert.Contains(t, report, "`results.txt`")
}

func TestExecutorRunWithoutOutputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "quiet.sh", "true\n")

	result, err := NewExecutor(ExecConfig{}, nil, nil).Run(context.Background(), dir, script, nil)
	require.NoError(t, err)

	assert.Empty(t, result.ResultsPath)
	assert.NoFileExists(t, filepath.Join(dir, "results.txt"))
	assert.Equal(t, "`quiet.sh` executed with no output (exit code 0).", result.Report())
}

func TestExecutorRunTimesOut(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", "echo started\nsleep 10\n")

	e := NewExecutor(ExecConfig{Timeout: 200 * time.Millisecond, Grace: 200 * time.Millisecond}, nil, nil)
	result, err := e.Run(context.Background(), dir, script, nil)
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, subprocess.ExitCodeTimedOut, result.ExitCode)
	assert.Equal(t, "Error: Execution of `slow.sh` timed out after 200ms.", result.Report())
}

// scriptAgent answers every prompt by running script with the prompt in $1.
type scriptAgent struct {
	script string
	seen   []string
}

func (a *scriptAgent) Command(workdir, prompt string, resume bool) subprocess.Command {
	a.seen = append(a.seen, prompt)
	return subprocess.Command{Path: "/bin/sh", Args: []string{"-c", a.script, "agent", prompt}, Dir: workdir}
}

func TestReviewerProposeAndRevise(t *testing.T) {
	agent := &scriptAgent{script: "printf '\\033[1m# Requirements\\033[0m\\n- %s\\n' \"$(printf '%s' \"$1\" | head -c 12)\""}
	reviewer, err := NewReviewer(ReviewConfig{Timeout: 5 * time.Second}, agent, nil, nil)
	require.NoError(t, err)

	proposal, err := reviewer.Propose(context.Background(), t.TempDir(), "# Project Requirements\n- be fast\n")
	require.NoError(t, err)
	assert.Equal(t, "# Requirements\n- Please revie\n", proposal)
	require.Len(t, agent.seen, 1)
	assert.Contains(t, agent.seen[0], "- be fast")

	_, err = reviewer.Revise(context.Background(), t.TempDir(), proposal, "add a test section")
	require.NoError(t, err)
	require.Len(t, agent.seen, 2)
	assert.Contains(t, agent.seen[1], "User Feedback: 'add a test section'")
	assert.True(t, strings.HasSuffix(agent.seen[1], proposal))
}

func TestReviewerReportsAgentFailures(t *testing.T) {
	failing, err := NewReviewer(ReviewConfig{}, &scriptAgent{script: "echo quota exceeded >&2; exit 1"}, nil, nil)
	require.NoError(t, err)
	_, err = failing.Propose(context.Background(), t.TempDir(), "x")
	assert.ErrorContains(t, err, "code 1: quota exceeded")

	silent, err := NewReviewer(ReviewConfig{}, &scriptAgent{script: "printf '  \\n'"}, nil, nil)
	require.NoError(t, err)
	_, err = silent.Propose(context.Background(), t.TempDir(), "x")
	assert.ErrorIs(t, err, ErrEmptyProposal)

	_, err = NewReviewer(ReviewConfig{}, nil, nil, nil)
	assert.Error(t, err)
}
