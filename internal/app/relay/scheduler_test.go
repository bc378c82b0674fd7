package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain/run"
	"relay/internal/domain/run/runtest"
	sharederrors "relay/internal/shared/errors"
)

func newTestScheduler(settings Settings, messenger run.Messenger, clock *fakeClock, messageID string) (*scheduler, *Accumulator) {
	acc := NewAccumulator(settings.VisibleTail)
	return newScheduler(settings, messenger, testChat, acc, messageID, clock.Now, nil, nil), acc
}

func TestPartialModeThrottlesAndSkipsUnchangedText(t *testing.T) {
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{Now: clock.Now}
	settings := DefaultSettings()
	sched, acc := newTestScheduler(settings, messenger, clock, "1")
	ctx := context.Background()

	acc.AppendStdout([]byte("hello"))
	sched.Tick(ctx)
	assert.Empty(t, messenger.Calls(), "pushed inside the minimum interval")

	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	edits := messenger.Successful(runtest.CallEdit)
	require.Len(t, edits, 1)
	assert.Equal(t, "hello"+settings.Cursor, edits[0].Text)
	assert.Equal(t, run.FormatPlain, edits[0].Format)

	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	assert.Len(t, messenger.Calls(), 1, "unchanged text was pushed again")
}

func TestPartialModeOpensMessageWhenNoneExists(t *testing.T) {
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{}
	sched, acc := newTestScheduler(DefaultSettings(), messenger, clock, "")

	acc.AppendStdout([]byte("first"))
	clock.Advance(2 * time.Second)
	sched.Tick(context.Background())

	sends := messenger.Successful(runtest.CallSend)
	require.Len(t, sends, 1)
	assert.Equal(t, sends[0].MessageID, sched.MessageID())
}

func TestRateLimitBlocksEditsUntilRetryAfterElapses(t *testing.T) {
	clock := newFakeClock()
	limited := false
	messenger := &runtest.RecordingMessenger{
		Now: clock.Now,
		Fail: func(call runtest.Call) error {
			if call.Kind == runtest.CallEdit && !limited {
				limited = true
				return sharederrors.NewRateLimitError(errors.New("too many requests"), 3)
			}
			return nil
		},
	}
	settings := DefaultSettings()
	settings.MinUpdateInterval = 500 * time.Millisecond
	sched, acc := newTestScheduler(settings, messenger, clock, "1")
	ctx := context.Background()

	acc.AppendStdout([]byte("step one. "))
	clock.Advance(time.Second)
	sched.Tick(ctx)
	calls := messenger.Calls()
	require.Len(t, calls, 1)
	require.Error(t, calls[0].Err)
	limitedAt := calls[0].At

	for i := 0; i < 5; i++ {
		acc.AppendStdout([]byte(fmt.Sprintf("step %d. ", i+2)))
		clock.Advance(500 * time.Millisecond)
		sched.Tick(ctx)
	}
	assert.Len(t, messenger.Calls(), 1, "edited during the retry-after window")

	clock.Advance(500 * time.Millisecond)
	sched.Tick(ctx)
	calls = messenger.Calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].At.Sub(limitedAt), 3*time.Second)
	require.NoError(t, calls[1].Err)

	text, ok := messenger.Message("1")
	require.True(t, ok)
	assert.Contains(t, text, "step one. ")
	for i := 2; i <= 6; i++ {
		assert.Contains(t, text, fmt.Sprintf("step %d. ", i))
	}
}

func TestFailedPushIsCoveredByNextPush(t *testing.T) {
	clock := newFakeClock()
	failed := false
	var dropped string
	messenger := &runtest.RecordingMessenger{
		Fail: func(call runtest.Call) error {
			if call.Kind == runtest.CallEdit && !failed {
				failed = true
				dropped = strings.TrimSuffix(call.Text, "▌")
				return errors.New("network down")
			}
			return nil
		},
	}
	settings := DefaultSettings()
	sched, acc := newTestScheduler(settings, messenger, clock, "1")
	ctx := context.Background()

	acc.AppendStdout([]byte("alpha "))
	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	require.True(t, failed)

	acc.AppendStdout([]byte("beta"))
	sched.Tick(ctx)
	assert.Len(t, messenger.Calls(), 1, "a failed push still counts against the interval")

	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	edits := messenger.Successful(runtest.CallEdit)
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, dropped)
}

func TestNotModifiedCountsAsPushed(t *testing.T) {
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{
		Fail: func(call runtest.Call) error { return run.ErrMessageNotModified },
	}
	settings := DefaultSettings()
	sched, acc := newTestScheduler(settings, messenger, clock, "1")
	ctx := context.Background()

	acc.AppendStdout([]byte("same"))
	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	assert.Len(t, messenger.Calls(), 1)
	assert.Equal(t, "same", sched.state.LastPushedText)
}

func blockSettings() Settings {
	settings := DefaultSettings()
	settings.Mode = run.DisplayBlock
	settings.BlockMin = 20
	settings.BlockMax = 50
	settings.VisibleTail = 60
	settings.MaxMessageSize = 64
	return settings
}

func TestBlockModeNeverExceedsMaxSegment(t *testing.T) {
	settings := blockSettings()
	require.NoError(t, settings.Validate())
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{}
	sched, acc := newTestScheduler(settings, messenger, clock, "")
	ctx := context.Background()

	words := strings.Fields("the quick brown fox jumps over the lazy dog while a verylongunbrokenwordthatexceedsanyblockboundaryentirely keeps going")
	var all strings.Builder
	for i := 0; i < 120; i++ {
		chunk := words[i%len(words)] + " "
		if i%17 == 0 {
			chunk += "\n"
		}
		all.WriteString(chunk)
		acc.AppendStdout([]byte(chunk))
		clock.Advance(settings.MinUpdateInterval)
		sched.Tick(ctx)
	}
	acc.Finish()
	sched.FlushBlock(ctx)

	cursor := utf8.RuneCountInString(settings.Cursor)
	for _, call := range messenger.Calls() {
		assert.LessOrEqual(t, utf8.RuneCountInString(call.Text), settings.BlockMax+cursor, "%s %q", call.Kind, call.Text)
		assert.LessOrEqual(t, utf8.RuneCountInString(call.Text), settings.MaxMessageSize)
	}
	assert.Greater(t, len(messenger.Successful(runtest.CallSend)), 1, "expected continuation messages")
	assert.Equal(t, all.String(), strings.Join(messenger.Messages(), ""))
}

func TestBlockModeWaitsForBlockMin(t *testing.T) {
	settings := blockSettings()
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{}
	sched, acc := newTestScheduler(settings, messenger, clock, "")
	ctx := context.Background()

	acc.AppendStdout([]byte("tiny"))
	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	assert.Empty(t, messenger.Calls())

	acc.AppendStdout([]byte(strings.Repeat("x", settings.BlockMin)))
	clock.Advance(settings.MinUpdateInterval)
	sched.Tick(ctx)
	sends := messenger.Successful(runtest.CallSend)
	require.Len(t, sends, 1)
	assert.True(t, strings.HasSuffix(sends[0].Text, settings.Cursor))
	assert.False(t, sched.Committed())
}

func TestOffModeNeverPushes(t *testing.T) {
	settings := DefaultSettings()
	settings.Mode = run.DisplayOff
	clock := newFakeClock()
	messenger := &runtest.RecordingMessenger{}
	sched, acc := newTestScheduler(settings, messenger, clock, "1")

	acc.AppendStdout([]byte(strings.Repeat("output ", 100)))
	clock.Advance(time.Minute)
	sched.Tick(context.Background())
	sched.FlushBlock(context.Background())
	assert.Empty(t, messenger.Calls())
}
