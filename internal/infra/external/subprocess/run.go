package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Output is what a command run to completion wrote.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
}

// Run starts cmd and collects both streams until it exits. When ctx ends
// first the process group is terminated with grace and whatever was read
// is returned with TimedOut set. Children left holding the pipes after the
// leader exits are killed once grace has passed.
func (s *Supervisor) Run(ctx context.Context, cmd Command, grace time.Duration) (Output, error) {
	p, err := s.Start(ctx, cmd)
	if err != nil {
		return Output{}, err
	}
	defer p.CloseOutputs()

	var out Output
	var readers errgroup.Group
	readers.Go(func() error {
		var err error
		out.Stdout, err = io.ReadAll(p.Stdout())
		return err
	})
	readers.Go(func() error {
		var err error
		out.Stderr, err = io.ReadAll(p.Stderr())
		return err
	})

	select {
	case <-p.Done():
	case <-ctx.Done():
		out.TimedOut = true
		if err := p.Terminate(grace); err != nil {
			s.logger.Warn("Terminate pid=%d after %v: %v", p.pid, ctx.Err(), err)
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- readers.Wait() }()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err = <-drained:
	case <-timer.C:
		s.logger.Warn("Output of pid=%d still open %s after exit, reclaiming", p.pid, grace)
		p.reclaimGroup()
		p.CloseOutputs()
		err = <-drained
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return out, fmt.Errorf("read output of %s: %w", cmd.Path, err)
	}

	out.ExitCode = p.ExitCode()
	if out.TimedOut {
		out.ExitCode = ExitCodeTimedOut
	}
	return out, nil
}
