package agentcli

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/shared/logging"
)

const (
	defaultBinary         = "gemini"
	defaultPromptFlag     = "--prompt"
	defaultSessionPattern = `\[[^\]\s]+\]`
	defaultProbeTimeout   = 15 * time.Second
)

// Config configures the external agent command line.
type Config struct {
	Binary           string
	Args             []string
	ResumeArgs       []string
	PromptFlag       string
	ListSessionsArgs []string
	// SessionPattern matches one session identifier in the list-sessions
	// output. The default expects bracketed identifiers.
	SessionPattern string
	ProbeTimeout   time.Duration
	Env            map[string]string
}

// CLI builds agent invocations and answers whether a workspace already has
// a session worth resuming.
type CLI struct {
	cfg       Config
	sessionRE *regexp.Regexp
	logger    logging.Logger
	probe     func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// New validates cfg and returns a CLI.
func New(cfg Config, logger logging.Logger) (*CLI, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaultBinary
	}
	if strings.TrimSpace(cfg.PromptFlag) == "" {
		cfg.PromptFlag = defaultPromptFlag
	}
	if strings.TrimSpace(cfg.SessionPattern) == "" {
		cfg.SessionPattern = defaultSessionPattern
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	sessionRE, err := regexp.Compile(cfg.SessionPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid session pattern %q: %w", cfg.SessionPattern, err)
	}
	return &CLI{
		cfg:       cfg,
		sessionRE: sessionRE,
		logger:    logging.OrNop(logger),
		probe:     runProbe,
	}, nil
}

// Command returns the invocation for prompt in workdir.
func (c *CLI) Command(workdir, prompt string, resume bool) subprocess.Command {
	args := append([]string{}, c.cfg.Args...)
	if resume {
		args = append(args, c.cfg.ResumeArgs...)
	}
	args = append(args, c.cfg.PromptFlag, prompt)
	return subprocess.Command{
		Path: c.cfg.Binary,
		Args: args,
		Env:  c.cfg.Env,
		Dir:  workdir,
	}
}

// HasPriorSession runs the list-sessions invocation in workdir and reports
// whether it printed at least one session identifier. Any probe failure
// means a fresh session.
func (c *CLI) HasPriorSession(ctx context.Context, workdir string) bool {
	if len(c.cfg.ResumeArgs) == 0 || len(c.cfg.ListSessionsArgs) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	out, err := c.probe(ctx, workdir, c.cfg.Binary, c.cfg.ListSessionsArgs...)
	if err != nil {
		c.logger.Warn("List sessions in %s failed, starting fresh: %v", workdir, err)
		return false
	}
	found := c.sessionRE.MatchString(transcript.StripANSI(string(out)))
	c.logger.Debug("List sessions in %s: prior session=%t", workdir, found)
	return found
}

func runProbe(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
