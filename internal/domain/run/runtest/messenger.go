// Package runtest provides test doubles for run collaborators.
package runtest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"relay/internal/domain/run"
)

// CallKind names a messenger operation.
type CallKind string

const (
	CallSend CallKind = "send"
	CallEdit CallKind = "edit"
	CallFile CallKind = "file"
)

// Call is one recorded messenger call.
type Call struct {
	Kind      CallKind
	Chat      run.ChatContext
	MessageID string
	Text      string
	Format    run.TextFormat
	Path      string
	Err       error
	At        time.Time
}

// RecordingMessenger records every call and answers with injected errors.
// The zero value is ready to use.
type RecordingMessenger struct {
	// Fail, when set, decides the error returned for a call. The call is
	// recorded either way.
	Fail func(call Call) error
	// Now stamps recorded calls; time.Now when nil.
	Now func() time.Time

	mu     sync.Mutex
	calls  []Call
	nextID int
	texts  map[string]string
}

func (m *RecordingMessenger) record(call Call) error {
	if m.Now != nil {
		call.At = m.Now()
	} else {
		call.At = time.Now()
	}
	var err error
	if m.Fail != nil {
		err = m.Fail(call)
	}
	call.Err = err

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.texts == nil {
		m.texts = make(map[string]string)
	}
	if err == nil {
		switch call.Kind {
		case CallSend:
			m.nextID++
			call.MessageID = strconv.Itoa(m.nextID)
			m.texts[call.MessageID] = call.Text
		case CallEdit:
			m.texts[call.MessageID] = call.Text
		}
	}
	m.calls = append(m.calls, call)
	return err
}

func (m *RecordingMessenger) SendMessage(_ context.Context, chat run.ChatContext, text string, format run.TextFormat) (string, error) {
	if err := m.record(Call{Kind: CallSend, Chat: chat, Text: text, Format: format}); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1].MessageID, nil
}

func (m *RecordingMessenger) EditMessage(_ context.Context, chat run.ChatContext, messageID, text string, format run.TextFormat) error {
	return m.record(Call{Kind: CallEdit, Chat: chat, MessageID: messageID, Text: text, Format: format})
}

func (m *RecordingMessenger) SendFile(_ context.Context, chat run.ChatContext, path string) error {
	return m.record(Call{Kind: CallFile, Chat: chat, Path: path})
}

// Calls returns every recorded call in order.
func (m *RecordingMessenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Successful returns the calls of kind that did not fail.
func (m *RecordingMessenger) Successful(kind CallKind) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Kind == kind && c.Err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Message returns the current text of a sent message.
func (m *RecordingMessenger) Message(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.texts[id]
	return text, ok
}

// Messages returns the current text of every sent message in send order.
func (m *RecordingMessenger) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, m.nextID)
	for i := 1; i <= m.nextID; i++ {
		out = append(out, m.texts[strconv.Itoa(i)])
	}
	return out
}

// Reset drops recorded calls and messages.
func (m *RecordingMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.texts = nil
	m.nextID = 0
}
