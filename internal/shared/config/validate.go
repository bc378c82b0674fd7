package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	ID      string
	Message string
	Hint    string
}

func (i ValidationIssue) Error() string {
	if i.Hint == "" {
		return fmt.Sprintf("%s: %s", i.ID, i.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", i.ID, i.Message, i.Hint)
}

// ValidationReport summarizes runtime config validation findings.
type ValidationReport struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// HasErrors reports whether the validation report contains blocking errors.
func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err joins the blocking issues, nil when there are none.
func (r ValidationReport) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, issue := range r.Errors {
		errs = append(errs, issue)
	}
	return errors.Join(errs...)
}

// Validate checks cfg. requireToken is set by commands that talk to the
// chat transport.
func Validate(cfg RuntimeConfig, requireToken bool) ValidationReport {
	var report ValidationReport
	fail := func(id, msg, hint string) {
		report.Errors = append(report.Errors, ValidationIssue{ID: id, Message: msg, Hint: hint})
	}
	warn := func(id, msg, hint string) {
		report.Warnings = append(report.Warnings, ValidationIssue{ID: id, Message: msg, Hint: hint})
	}

	if requireToken && cfg.Telegram.Token == "" {
		fail("telegram-token", "telegram.token is required", "Set RELAY_TELEGRAM_TOKEN or telegram.token in relay.yaml.")
	}
	if requireToken && len(cfg.Telegram.AuthorizedChatIDs) == 0 {
		warn("telegram-authorized", "no authorized chat ids, every chat is refused", "Set telegram.authorized_chat_ids.")
	}
	if strings.TrimSpace(cfg.Projects.Root) == "" {
		fail("projects-root", "projects.root is required", "")
	}
	if strings.TrimSpace(cfg.Agent.Binary) == "" {
		fail("agent-binary", "agent.binary is required", "")
	}
	if _, err := regexp.Compile(cfg.Agent.SessionPattern); err != nil {
		fail("agent-session-pattern", fmt.Sprintf("agent.session_pattern does not compile: %v", err), "")
	}
	if _, err := cfg.Agent.EnvMap(); err != nil {
		fail("agent-env", err.Error(), "Use KEY=VALUE entries.")
	}

	s := cfg.Streaming
	switch s.Mode {
	case "partial", "block", "off":
	default:
		fail("streaming-mode", fmt.Sprintf("unknown streaming.mode %q", s.Mode), "Use partial, block or off.")
	}
	cursor := utf8.RuneCountInString(s.Cursor)
	if s.MaxMessageSize <= 0 {
		fail("streaming-max-message-size", "streaming.max_message_size must be positive", "")
	}
	if s.VisibleTail <= 0 || s.VisibleTail+cursor > s.MaxMessageSize {
		fail("streaming-visible-tail", fmt.Sprintf("streaming.visible_tail %d plus cursor must fit in %d", s.VisibleTail, s.MaxMessageSize), "")
	}
	if s.BlockMin <= 0 || s.BlockMin > s.BlockMax {
		fail("streaming-block-bounds", fmt.Sprintf("streaming.block_min %d must be positive and at most block_max %d", s.BlockMin, s.BlockMax), "")
	}
	if s.BlockMax+cursor > s.MaxMessageSize {
		fail("streaming-block-max", fmt.Sprintf("streaming.block_max %d plus cursor must fit in %d", s.BlockMax, s.MaxMessageSize), "")
	}
	if s.ReadSize <= 0 || s.QueueSize <= 0 {
		fail("streaming-buffers", "streaming.read_size and streaming.queue_size must be positive", "")
	}
	if s.MinUpdateInterval <= 0 || s.PollInterval <= 0 {
		fail("streaming-intervals", "streaming intervals must be positive", "")
	}

	sv := cfg.Supervisor
	if sv.Timeout <= 0 || sv.GracePeriod <= 0 || sv.ReapInterval <= 0 || sv.DrainGrace <= 0 {
		fail("supervisor-durations", "supervisor durations must be positive", "")
	}

	wb := cfg.Workbench
	if wb.ExecTimeout <= 0 || wb.ReviewTimeout <= 0 {
		fail("workbench-timeouts", "workbench timeouts must be positive", "")
	}
	if base := filepath.Base(wb.ResultsFile); wb.ResultsFile == "" || base != wb.ResultsFile {
		fail("workbench-results-file", fmt.Sprintf("workbench.results_file %q must be a plain file name", wb.ResultsFile), "")
	}
	if wb.ReminderEvery < 0 {
		fail("workbench-reminder", "workbench.reminder_every must not be negative", "Use 0 to disable the reminder.")
	}

	if cfg.Server.Enabled && strings.TrimSpace(cfg.Server.Addr) == "" {
		fail("server-addr", "server.addr is required when the server is enabled", "")
	}
	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			fail("tracing-exporter", fmt.Sprintf("unknown tracing.exporter %q", cfg.Tracing.Exporter), "Use otlp or zipkin.")
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			fail("tracing-sample-rate", "tracing.sample_rate must be within [0, 1]", "")
		}
	}
	return report
}
