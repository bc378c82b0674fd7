package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"relay/internal/domain/run"
)

const liveAnchorSize = 64

// consoleMessenger is a run.Messenger for the terminal. Streaming pushes
// are plain text and print their new tail to live; formatted messages are
// rendered whole to out.
type consoleMessenger struct {
	out    io.Writer
	live   io.Writer
	cursor string
	render func(string) string

	mu     sync.Mutex
	nextID int
	seen   map[string]string
}

var _ run.Messenger = (*consoleMessenger)(nil)

func newConsoleMessenger(out, live io.Writer, cursor string, render func(string) string) *consoleMessenger {
	if render == nil {
		render = func(s string) string { return s }
	}
	return &consoleMessenger{out: out, live: live, cursor: cursor, render: render, seen: map[string]string{}}
}

func (m *consoleMessenger) SendMessage(ctx context.Context, _ run.ChatContext, text string, format run.TextFormat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	messageID := strconv.Itoa(m.nextID)
	m.print(messageID, text, format)
	return messageID, nil
}

func (m *consoleMessenger) EditMessage(ctx context.Context, _ run.ChatContext, messageID, text string, format run.TextFormat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[messageID] == strings.TrimSuffix(text, m.cursor) && format == run.FormatPlain {
		return run.ErrMessageNotModified
	}
	m.print(messageID, text, format)
	return nil
}

func (m *consoleMessenger) SendFile(ctx context.Context, _ run.ChatContext, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.out, "%s %s\n", cyan("attachment:"), path)
	return nil
}

func (m *consoleMessenger) print(messageID, text string, format run.TextFormat) {
	if format != run.FormatPlain {
		m.seen[messageID] = text
		fmt.Fprintln(m.out, m.render(text))
		return
	}
	text = strings.TrimSuffix(text, m.cursor)
	delta := liveDelta(m.seen[messageID], text)
	m.seen[messageID] = text
	if delta != "" {
		fmt.Fprint(m.live, gray(delta))
	}
}

// liveDelta returns what next adds to prev. A window that slid forward is
// matched on the tail of prev; anything else is printed again on a new line.
func liveDelta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	anchor := prev
	if len(anchor) > liveAnchorSize {
		anchor = anchor[len(anchor)-liveAnchorSize:]
	}
	if idx := strings.LastIndex(next, anchor); idx >= 0 {
		return next[idx+len(anchor):]
	}
	return "\n" + next
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// newMarkdownRenderer returns a glamour renderer sized to the terminal, or
// identity when stdout is not a terminal.
func newMarkdownRenderer(tty bool) func(string) string {
	if !tty {
		return nil
	}
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = min(w-4, 120)
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil
	}
	return func(s string) string {
		rendered, err := renderer.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}
