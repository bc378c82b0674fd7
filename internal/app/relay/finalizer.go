package relay

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/observability"
	sharederrors "relay/internal/shared/errors"
)

const (
	genericFailureMessage = "An error occurred while executing the agent."
	timeoutNoticeFormat   = "Error: the agent timed out after %s and was terminated."
	stderrHeading         = "Agent errors:"
)

// finalize runs once per AgentRun after its consumer loop exits. Every step
// is isolated: an error or panic in one is logged and the next still runs.
// The run always ends terminal and unregistered.
func (e *Engine) finalize(ctx context.Context, r *AgentRun, sched *scheduler, span trace.Span) {
	if !r.claimFinalize() {
		return
	}
	logger := r.logger
	failed := false
	step := func(name string, fn func() error) {
		defer func() {
			if rec := recover(); rec != nil {
				failed = true
				logger.Error("Finalize %s for run %s (%s) panicked: %v", name, r.ID, r.Chat, rec)
			}
		}()
		if err := fn(); err != nil {
			logger.Warn("Finalize %s for run %s (%s) failed: %v", name, r.ID, r.Chat, err)
		}
	}

	var final run.FinalTranscript
	step("transcript", func() error {
		final = e.buildTranscript(r)
		return nil
	})
	step("conversation-log", func() error {
		return e.journal.AppendDecision(r.WorkingDir, final.RawText, final.StderrText)
	})
	step("requirements", func() error {
		if !final.Succeeded() || transcript.IsPlaceholder(final.CleanText) {
			return nil
		}
		return e.journal.AppendAcceptedResponse(r.WorkingDir, final.CleanText)
	})
	step("block-flush", func() error {
		sched.FlushBlock(ctx)
		return nil
	})
	step("deliver", func() error {
		return e.deliverFinal(ctx, r, sched, final)
	})
	step("attachment", func() error {
		path, ok := transcript.ResolveFileReference(final.CleanText, r.WorkingDir)
		if !ok {
			return nil
		}
		logger.Info("Run %s referenced %s, delivering it", r.ID, path)
		return e.files.Deliver(ctx, r.Chat, path)
	})

	state := final.State()
	if failed {
		state = run.StateFailed
		e.reportFailure(ctx, r)
	}
	r.setState(state)
	e.registry.Remove(r)

	duration := e.now().Sub(r.StartedAt())
	e.metrics.RunFinished(string(state), duration)
	span.SetAttributes(
		attribute.Int(observability.AttrExitCode, final.ExitCode),
		attribute.String(observability.AttrState, string(state)),
	)
	if state != run.StateCompleted {
		span.SetStatus(codes.Error, string(state))
	}
	e.events.Publish(RunEvent{
		Type:       EventFinished,
		RunID:      r.ID,
		Chat:       r.Chat,
		State:      state,
		Transcript: &final,
		At:         e.now(),
	})
	logger.Info("Run %s for %s finished: state=%s exit=%d duration=%s", r.ID, r.Chat, state, final.ExitCode, duration)
}

func (e *Engine) buildTranscript(r *AgentRun) run.FinalTranscript {
	r.acc.Finish()
	final := run.FinalTranscript{
		RawText:    r.acc.Raw(),
		CleanText:  r.acc.Clean(),
		StderrText: r.acc.Stderr(),
	}
	if proc := r.process(); proc != nil {
		_, final.ExitCode = proc.Poll()
	}
	if r.TimedOut() {
		final.TimedOut = true
		final.ExitCode = subprocess.ExitCodeTimedOut
	}
	return final
}

// displayText is the final chat text before formatting. In block mode only
// the part not yet committed to finished messages is shown again.
func (e *Engine) displayText(final run.FinalTranscript, sched *scheduler) string {
	body := final.CleanText
	if e.settings.Mode == run.DisplayBlock && sched.Committed() {
		body = sched.Uncommitted()
	}

	var b strings.Builder
	b.WriteString(body)
	if stderr := strings.TrimSpace(transcript.StripANSI(final.StderrText)); stderr != "" && !final.Succeeded() {
		fmt.Fprintf(&b, "\n\n%s\n```\n%s\n```", stderrHeading, stderr)
	}
	if final.TimedOut {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, timeoutNoticeFormat, e.settings.Timeout)
	}

	text := b.String()
	if strings.TrimSpace(text) == "" && sched.Committed() {
		return ""
	}
	return transcript.FormatFinal(text)
}

func (e *Engine) deliverFinal(ctx context.Context, r *AgentRun, sched *scheduler, final run.FinalTranscript) error {
	display := e.displayText(final, sched)
	if display == "" {
		return nil
	}
	if !sched.WaitRateLimit(ctx) {
		return fmt.Errorf("final delivery for %s: %w", r.Chat, ctx.Err())
	}
	messageID := sched.MessageID()
	var lastErr error
	for i, segment := range transcript.Split(transcript.ToTelegramMarkdown(display), e.settings.MaxMessageSize) {
		if i == 0 && messageID != "" {
			err := sharederrors.Retry(ctx, e.finalRetry, func(ctx context.Context) error {
				return editWithFallback(ctx, e.messenger, r.Chat, messageID, segment, run.FormatMarkdown)
			})
			if err == nil {
				e.metrics.Delivery("edit", "ok")
				continue
			}
			e.metrics.Delivery("edit", "error")
			r.logger.Warn("Final edit of message %s for %s failed, sending instead: %v", messageID, r.Chat, err)
		}
		_, err := sharederrors.RetryWithResult(ctx, e.finalRetry, func(ctx context.Context) (string, error) {
			return sendWithFallback(ctx, e.messenger, r.Chat, segment, run.FormatMarkdown)
		})
		if err != nil {
			e.metrics.Delivery("send", "error")
			lastErr = fmt.Errorf("send segment %d: %w", i+1, err)
			continue
		}
		e.metrics.Delivery("send", "ok")
	}
	return lastErr
}

func (e *Engine) reportFailure(ctx context.Context, r *AgentRun) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Reporting failure of run %s panicked: %v", r.ID, rec)
		}
	}()
	if _, err := e.messenger.SendMessage(ctx, r.Chat, genericFailureMessage, run.FormatPlain); err != nil {
		r.logger.Warn("Report failure of run %s to %s failed: %v", r.ID, r.Chat, err)
	}
}
