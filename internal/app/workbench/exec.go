// Package workbench holds the chat tools that sit beside agent runs:
// executing project files and reviewing the requirements document.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/filestore"
	"relay/internal/shared/logging"
)

// ErrUnsupportedFile is returned for files the executor has no runner for.
var ErrUnsupportedFile = errors.New("unsupported file type for execution")

const (
	defaultExecTimeout = 2 * time.Minute
	defaultExecGrace   = 5 * time.Second
	defaultResultsFile = "results.txt"
	defaultPython      = "python3"
)

// ExecConfig tunes file execution.
type ExecConfig struct {
	Timeout     time.Duration
	Grace       time.Duration
	ResultsFile string
	Python      string
}

// ExecResult is one finished execution.
type ExecResult struct {
	File     string
	Command  []string
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	// ResultsPath is set when the output was also written to disk.
	ResultsPath string
}

// Executor runs scripts found in a project directory.
type Executor struct {
	cfg    ExecConfig
	sup    *subprocess.Supervisor
	logger logging.Logger
}

// NewExecutor fills cfg defaults. A nil supervisor gets a private one.
func NewExecutor(cfg ExecConfig, sup *subprocess.Supervisor, logger logging.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExecTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultExecGrace
	}
	if cfg.ResultsFile == "" {
		cfg.ResultsFile = defaultResultsFile
	}
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	logger = logging.OrNop(logger)
	if sup == nil {
		sup = subprocess.NewSupervisor(logger)
	}
	return &Executor{cfg: cfg, sup: sup, logger: logger}
}

// Command returns the invocation for the file at path with params.
func (e *Executor) Command(path string, params []string) (subprocess.Command, error) {
	var argv []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		argv = []string{e.cfg.Python, path}
	case ".sh":
		argv = []string{"bash", path}
	case ".bat", ".cmd", ".exe":
		argv = []string{path}
	default:
		return subprocess.Command{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(path))
	}
	argv = append(argv, params...)
	return subprocess.Command{Path: argv[0], Args: argv[1:], Dir: filepath.Dir(path)}, nil
}

// Run executes the file at path inside dir and saves any output to the
// results file in dir.
func (e *Executor) Run(ctx context.Context, dir, path string, params []string) (ExecResult, error) {
	cmd, err := e.Command(path, params)
	if err != nil {
		return ExecResult{}, err
	}
	cmd.Dir = dir
	result := ExecResult{
		File:    filepath.Base(path),
		Command: append([]string{cmd.Path}, cmd.Args...),
		Timeout: e.cfg.Timeout,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	e.logger.Info("Executing %s in %s", strings.Join(result.Command, " "), dir)
	out, err := e.sup.Run(runCtx, cmd, e.cfg.Grace)
	if err != nil {
		return result, fmt.Errorf("execute %s: %w", result.File, err)
	}
	result.Stdout = transcript.DecodeText(out.Stdout)
	result.Stderr = transcript.DecodeText(out.Stderr)
	result.ExitCode = out.ExitCode
	result.TimedOut = out.TimedOut

	if result.Stdout != "" || result.Stderr != "" {
		resultsPath := filepath.Join(dir, e.cfg.ResultsFile)
		if err := filestore.AtomicWrite(resultsPath, []byte(resultsText(result)), 0o644); err != nil {
			e.logger.Error("Write %s failed: %v", resultsPath, err)
		} else {
			result.ResultsPath = resultsPath
		}
	}
	return result, nil
}

func resultsText(r ExecResult) string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString("--- STDOUT ---\n")
		b.WriteString(r.Stdout)
		b.WriteString("\n")
	}
	if r.Stderr != "" {
		b.WriteString("--- STDERR ---\n")
		b.WriteString(r.Stderr)
	}
	return b.String()
}

// Report renders r as a chat message in GitHub-flavored Markdown.
func (r ExecResult) Report() string {
	if r.TimedOut {
		return fmt.Sprintf("Error: Execution of `%s` timed out after %s.", r.File, r.Timeout)
	}
	var b strings.Builder
	if out := strings.TrimSpace(r.Stdout); out != "" {
		fmt.Fprintf(&b, "**Output:**\n```\n%s\n```\n", out)
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		fmt.Fprintf(&b, "**Errors:**\n```\n%s\n```\n", errOut)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("`%s` executed with no output (exit code %d).", r.File, r.ExitCode)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, "\nExit code: %d", r.ExitCode)
	}
	if r.ResultsPath != "" {
		fmt.Fprintf(&b, "\nOutput also saved to `%s`.", filepath.Base(r.ResultsPath))
	}
	return b.String()
}
