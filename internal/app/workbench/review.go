package workbench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/shared/logging"
)

// ErrEmptyProposal is returned when the agent answered with nothing usable.
var ErrEmptyProposal = errors.New("agent returned an empty proposal")

const (
	defaultReviewTimeout = 5 * time.Minute
	maxStderrInError     = 500

	consolidatePrompt = "Please review and consolidate the following project requirements into a concise and updated version. " +
		"Return only the updated markdown content.\n\n---\n\n%s"
	revisePrompt = "The user has suggested edits to the proposed requirements. Please incorporate the following " +
		"feedback and generate a new, updated version. Return only the updated markdown content. " +
		"User Feedback: '%s'. Previous Proposal:\n---\n%s"
)

// CommandBuilder turns a prompt into an agent invocation.
type CommandBuilder interface {
	Command(workdir, prompt string, resume bool) subprocess.Command
}

// ReviewConfig tunes requirement reviews.
type ReviewConfig struct {
	Timeout time.Duration
	Grace   time.Duration
}

// Reviewer asks the agent for a consolidated requirements document. Each
// request is a one-shot run that never resumes the project's session.
type Reviewer struct {
	cfg    ReviewConfig
	agent  CommandBuilder
	sup    *subprocess.Supervisor
	logger logging.Logger
}

// NewReviewer fills cfg defaults. A nil supervisor gets a private one.
func NewReviewer(cfg ReviewConfig, agent CommandBuilder, sup *subprocess.Supervisor, logger logging.Logger) (*Reviewer, error) {
	if agent == nil {
		return nil, fmt.Errorf("reviewer requires an agent command builder")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReviewTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultExecGrace
	}
	logger = logging.OrNop(logger)
	if sup == nil {
		sup = subprocess.NewSupervisor(logger)
	}
	return &Reviewer{cfg: cfg, agent: agent, sup: sup, logger: logger}, nil
}

// Propose returns a consolidated version of current.
func (r *Reviewer) Propose(ctx context.Context, dir, current string) (string, error) {
	return r.ask(ctx, dir, fmt.Sprintf(consolidatePrompt, current))
}

// Revise folds feedback into proposal.
func (r *Reviewer) Revise(ctx context.Context, dir, proposal, feedback string) (string, error) {
	return r.ask(ctx, dir, fmt.Sprintf(revisePrompt, feedback, proposal))
}

func (r *Reviewer) ask(ctx context.Context, dir, prompt string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out, err := r.sup.Run(runCtx, r.agent.Command(dir, prompt, false), r.cfg.Grace)
	if err != nil {
		return "", fmt.Errorf("requirements review: %w", err)
	}
	if out.TimedOut {
		return "", fmt.Errorf("requirements review timed out after %s", r.cfg.Timeout)
	}
	if out.ExitCode != 0 {
		stderr := strings.TrimSpace(transcript.StripANSI(transcript.DecodeText(out.Stderr)))
		if len(stderr) > maxStderrInError {
			stderr = stderr[len(stderr)-maxStderrInError:]
		}
		return "", fmt.Errorf("requirements review: agent exited with code %d: %s", out.ExitCode, stderr)
	}
	proposal := transcript.StripANSI(transcript.DecodeText(out.Stdout))
	if strings.TrimSpace(proposal) == "" {
		return "", ErrEmptyProposal
	}
	r.logger.Info("Requirements review for %s produced %d bytes", dir, len(proposal))
	return proposal, nil
}
