package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relay/internal/app/relay"
	"relay/internal/domain/run"
	"relay/internal/shared/async"
	"relay/internal/shared/config"
	"relay/internal/shared/logging"
)

// exitTimedOut follows the timeout(1) convention.
const exitTimedOut = 124

// localChat is the chat context of a terminal run.
var localChat = run.ChatContext{ChatID: 0}

type runOptions struct {
	dir     string
	mode    string
	timeout time.Duration
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] <prompt...>",
		Short: "Run the agent once in a local directory and stream its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, flags, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", ".", "project directory the agent runs in")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "display mode: partial, block or off")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "wall-clock limit for the agent")
	return cmd
}

func runOptionsToConfig(opts *runOptions) []config.Option {
	var out []config.Option
	if opts.mode != "" {
		out = append(out, config.WithOverride("streaming.mode", opts.mode))
	}
	if opts.timeout > 0 {
		out = append(out, config.WithOverride("supervisor.timeout", opts.timeout))
	}
	return out
}

func runOnce(ctx context.Context, flags *globalFlags, opts *runOptions, prompt string) error {
	logger := logging.NewComponentLogger("Run")
	cfg, _, err := loadConfig(flags, false, runOptionsToConfig(opts)...)
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(opts.dir)
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	messenger := newConsoleMessenger(os.Stdout, os.Stderr, cfg.Streaming.Cursor, newMarkdownRenderer(isTTY()))
	waiter := newRunWaiter(localChat)
	projectsCfg := projectsConfigFromConfig(cfg)
	projectsCfg.Root = dir
	parts, err := buildEngine(cfg, projectsCfg, messenger, waiter, logging.NewComponentLogger("Relay"))
	if err != nil {
		return err
	}
	defer parts.close(context.Background(), logger)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	async.Go(logger, "relay.reaper", func() {
		parts.engine.RunReaper(reaperCtx)
	})

	fmt.Fprintf(os.Stderr, "%s %s\n", bold("relay:"), green("running agent in "+dir))
	if err := parts.engine.SubmitPrompt(ctx, localChat, prompt, dir); err != nil {
		return err
	}

	var finished relay.RunEvent
	select {
	case finished = <-waiter.done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, red("\nInterrupted, stopping the agent..."))
		_ = parts.engine.Terminate(localChat)
		grace := cfg.Supervisor.GracePeriod + cfg.Supervisor.DrainGrace
		select {
		case finished = <-waiter.done:
		case <-time.After(grace):
			return fmt.Errorf("agent did not stop within %s", grace)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.DrainGrace)
	defer cancel()
	if err := parts.engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Engine shutdown: %v", err)
	}

	if code := exitCodeOf(finished); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

// exitCodeOf mirrors the agent's exit status.
func exitCodeOf(event relay.RunEvent) int {
	if event.Transcript == nil {
		if event.State == run.StateCompleted {
			return 0
		}
		return 1
	}
	switch {
	case event.Transcript.TimedOut:
		return exitTimedOut
	case event.Transcript.ExitCode < 0:
		return 1
	case event.Transcript.ExitCode == 0 && event.State != run.StateCompleted:
		return 1
	default:
		return event.Transcript.ExitCode
	}
}

// runWaiter is an event sink that reports the first finished run of chat.
type runWaiter struct {
	chat run.ChatContext
	done chan relay.RunEvent
}

func newRunWaiter(chat run.ChatContext) *runWaiter {
	return &runWaiter{chat: chat, done: make(chan relay.RunEvent, 1)}
}

func (w *runWaiter) Publish(event relay.RunEvent) {
	if event.Type != relay.EventFinished || event.Chat != w.chat {
		return
	}
	select {
	case w.done <- event:
	default:
	}
}
