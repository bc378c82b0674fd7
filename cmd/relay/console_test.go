package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain/run"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLiveDelta(t *testing.T) {
	assert.Equal(t, "hello", liveDelta("", "hello"))
	assert.Equal(t, " world", liveDelta("hello", "hello world"))
	assert.Equal(t, "", liveDelta("same", "same"))

	prev := strings.Repeat("a", 100) + "0123456789"
	next := "…" + strings.Repeat("a", 80) + "0123456789tail"
	assert.Equal(t, "tail", liveDelta(prev, next))

	assert.Equal(t, "\nunrelated", liveDelta("something else", "unrelated"))
}

func TestConsoleMessengerStreamsPlainAndRendersFinal(t *testing.T) {
	var out, live safeBuffer
	m := newConsoleMessenger(&out, &live, "▌", func(s string) string { return "[md]" + s })
	ctx := context.Background()
	chat := run.ChatContext{}

	id, err := m.SendMessage(ctx, chat, "step 1▌", run.FormatPlain)
	require.NoError(t, err)
	require.NoError(t, m.EditMessage(ctx, chat, id, "step 1 step 2▌", run.FormatPlain))
	assert.ErrorIs(t, m.EditMessage(ctx, chat, id, "step 1 step 2▌", run.FormatPlain), run.ErrMessageNotModified)
	require.NoError(t, m.EditMessage(ctx, chat, id, "*done*", run.FormatMarkdown))

	assert.Contains(t, live.String(), "step 1")
	assert.Contains(t, live.String(), " step 2")
	assert.NotContains(t, live.String(), "▌")
	assert.Equal(t, "[md]*done*\n", out.String())

	other, err := m.SendMessage(ctx, chat, "x", run.FormatPlain)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestConsoleMessengerRespectsCancelledContext(t *testing.T) {
	var out, live safeBuffer
	m := newConsoleMessenger(&out, &live, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SendMessage(ctx, run.ChatContext{}, "hi", run.FormatPlain)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.SendFile(ctx, run.ChatContext{}, "/tmp/x"), context.Canceled)
	assert.Empty(t, out.String())
}

func TestConsoleMessengerSendFile(t *testing.T) {
	var out, live safeBuffer
	m := newConsoleMessenger(&out, &live, "", nil)

	require.NoError(t, m.SendFile(context.Background(), run.ChatContext{}, "/work/app/main.go"))
	assert.Contains(t, out.String(), "/work/app/main.go")
}
