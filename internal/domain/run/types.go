package run

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChatContext identifies where a run's output is delivered: a conversation
// and an optional sub-thread within it.
type ChatContext struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// Key is a stable map key for the context.
func (c ChatContext) Key() string {
	if c.ThreadID == 0 {
		return fmt.Sprintf("%d", c.ChatID)
	}
	return fmt.Sprintf("%d:%d", c.ChatID, c.ThreadID)
}

// ParseChatKey is the inverse of Key.
func ParseChatKey(key string) (ChatContext, error) {
	chatPart, threadPart, hasThread := strings.Cut(strings.TrimSpace(key), ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return ChatContext{}, fmt.Errorf("invalid chat key %q: %w", key, err)
	}
	chat := ChatContext{ChatID: chatID}
	if hasThread {
		threadID, err := strconv.Atoi(threadPart)
		if err != nil {
			return ChatContext{}, fmt.Errorf("invalid chat key %q: %w", key, err)
		}
		chat.ThreadID = threadID
	}
	return chat, nil
}

func (c ChatContext) String() string {
	return "chat=" + c.Key()
}

// State is the lifecycle state of an agent run.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s != StateRunning
}

// DisplayMode selects how in-progress output is pushed to the chat.
type DisplayMode string

const (
	DisplayPartial DisplayMode = "partial"
	DisplayBlock   DisplayMode = "block"
	DisplayOff     DisplayMode = "off"
)

// ParseDisplayMode accepts a case-insensitive mode name.
func ParseDisplayMode(raw string) (DisplayMode, error) {
	switch mode := DisplayMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case DisplayPartial, DisplayBlock, DisplayOff:
		return mode, nil
	case "":
		return DisplayPartial, nil
	default:
		return "", fmt.Errorf("unknown display mode %q (want partial, block or off)", raw)
	}
}

// TextFormat is the rendering hint passed to the transport.
type TextFormat int

const (
	FormatPlain TextFormat = iota
	FormatMarkdown
	FormatHTML
)

func (f TextFormat) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatHTML:
		return "html"
	default:
		return "plain"
	}
}

// FinalTranscript is the immutable outcome of a finished run.
type FinalTranscript struct {
	RawText    string
	CleanText  string
	StderrText string
	ExitCode   int
	TimedOut   bool
}

// Succeeded reports a natural zero exit.
func (t FinalTranscript) Succeeded() bool {
	return t.ExitCode == 0 && !t.TimedOut
}

// State maps the transcript to a terminal run state.
func (t FinalTranscript) State() State {
	switch {
	case t.TimedOut:
		return StateTimedOut
	case t.ExitCode == 0:
		return StateCompleted
	default:
		return StateFailed
	}
}

// Summary is a read-only view of a run for listings.
type Summary struct {
	ID         string        `json:"id"`
	Chat       ChatContext   `json:"chat"`
	WorkingDir string        `json:"working_dir"`
	PID        int           `json:"pid"`
	State      State         `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed"`
	OutputLen  int           `json:"output_len"`
}
