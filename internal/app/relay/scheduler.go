package relay

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/observability"
	sharederrors "relay/internal/shared/errors"
	"relay/internal/shared/logging"
)

// DisplayState is the scheduler's private view of one run's chat message.
type DisplayState struct {
	RemoteMessageID string
	LastPushedText  string
	LastPushTime    time.Time
	// PendingBuffer is the block-mode text not yet committed to a finished
	// message.
	PendingBuffer string

	committed   int
	retryUntil  time.Time
	cursorShown bool
}

type pushOutcome string

const (
	pushOK          pushOutcome = "ok"
	pushNotModified pushOutcome = "not_modified"
	pushRateLimited pushOutcome = "rate_limited"
	pushFailed      pushOutcome = "error"
)

// scheduler decides when in-progress output is pushed to the chat. It is
// driven only by its run's consumer loop and finalizer.
type scheduler struct {
	settings  Settings
	messenger run.Messenger
	chat      run.ChatContext
	acc       *Accumulator
	state     *DisplayState
	now       func() time.Time
	logger    logging.Logger
	metrics   *observability.Metrics
	onPush    func(text string)
}

func newScheduler(settings Settings, messenger run.Messenger, chat run.ChatContext, acc *Accumulator, messageID string, now func() time.Time, logger logging.Logger, metrics *observability.Metrics) *scheduler {
	return &scheduler{
		settings:  settings,
		messenger: messenger,
		chat:      chat,
		acc:       acc,
		state:     &DisplayState{RemoteMessageID: messageID, LastPushTime: now()},
		now:       now,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
	}
}

// Tick pushes an update if the display policy allows it now.
func (s *scheduler) Tick(ctx context.Context) {
	switch s.settings.Mode {
	case run.DisplayPartial:
		s.tickPartial(ctx)
	case run.DisplayBlock:
		s.tickBlock(ctx)
	}
}

func (s *scheduler) throttled(now time.Time) bool {
	if now.Before(s.state.retryUntil) {
		return true
	}
	return now.Sub(s.state.LastPushTime) < s.settings.MinUpdateInterval
}

func (s *scheduler) tickPartial(ctx context.Context) {
	if s.throttled(s.now()) {
		return
	}
	tail := s.acc.VisibleTail()
	if tail == "" || tail == s.state.LastPushedText {
		return
	}
	s.push(ctx, tail, s.settings.Cursor)
}

func (s *scheduler) tickBlock(ctx context.Context) {
	if s.throttled(s.now()) {
		return
	}
	committed, ok := s.commitFullBlocks(ctx)
	if !ok || committed > 0 {
		return
	}
	pending := s.state.PendingBuffer
	if utf8.RuneCountInString(pending) < s.settings.BlockMin || pending == s.state.LastPushedText {
		return
	}
	s.push(ctx, pending, s.settings.Cursor)
}

// commitFullBlocks finishes the current message with one full block for as
// long as the pending text exceeds BlockMax; the rest goes to a new message.
// It returns how many blocks were committed and false when a push failed.
func (s *scheduler) commitFullBlocks(ctx context.Context) (int, bool) {
	committed := 0
	s.state.PendingBuffer = s.acc.CleanFrom(s.state.committed)
	for utf8.RuneCountInString(s.state.PendingBuffer) > s.settings.BlockMax {
		block, _ := transcript.CutBlock(s.state.PendingBuffer, s.settings.BlockMax)
		if outcome := s.push(ctx, block, ""); outcome != pushOK && outcome != pushNotModified {
			return committed, false
		}
		committed++
		s.state.committed += len(block)
		s.state.PendingBuffer = s.acc.CleanFrom(s.state.committed)
		// The next push opens a continuation message.
		s.state.RemoteMessageID = ""
		s.state.LastPushedText = ""
		s.state.cursorShown = false
	}
	return committed, true
}

// FlushBlock commits everything still buffered in block mode. It waits out
// a pending rate limit, bounded by ctx.
func (s *scheduler) FlushBlock(ctx context.Context) {
	if s.settings.Mode != run.DisplayBlock {
		return
	}
	for attempt := 0; attempt < 3; attempt++ {
		if !s.WaitRateLimit(ctx) {
			return
		}
		if _, ok := s.commitFullBlocks(ctx); !ok {
			continue
		}
		pending := s.state.PendingBuffer
		if pending == "" || (pending == s.state.LastPushedText && !s.state.cursorShown) {
			return
		}
		if outcome := s.push(ctx, pending, ""); outcome == pushOK || outcome == pushNotModified {
			return
		}
	}
}

// WaitRateLimit blocks until the retry deadline of the last rate-limited
// push has passed. It returns false when ctx ends first.
func (s *scheduler) WaitRateLimit(ctx context.Context) bool {
	wait := s.state.retryUntil.Sub(s.now())
	if wait <= 0 {
		return true
	}
	s.logger.Debug("Waiting %s for the rate limit on %s to lift", wait, s.chat)
	return sleepCtx(ctx, wait)
}

// Uncommitted returns the stripped stdout that is not part of a finished
// block message.
func (s *scheduler) Uncommitted() string {
	return s.acc.CleanFrom(s.state.committed)
}

// Committed reports whether earlier blocks were already delivered.
func (s *scheduler) Committed() bool {
	return s.state.committed > 0
}

// MessageID returns the message the finalizer should edit, if any.
func (s *scheduler) MessageID() string {
	return s.state.RemoteMessageID
}

// push shows text plus suffix in the current message, creating the message
// when there is none.
func (s *scheduler) push(ctx context.Context, text, suffix string) pushOutcome {
	payload := text + suffix
	var err error
	if s.state.RemoteMessageID == "" {
		var id string
		id, err = s.messenger.SendMessage(ctx, s.chat, payload, run.FormatPlain)
		if err == nil {
			s.state.RemoteMessageID = id
		}
	} else {
		err = s.messenger.EditMessage(ctx, s.chat, s.state.RemoteMessageID, payload, run.FormatPlain)
	}

	now := s.now()
	outcome := classifyPush(err)
	s.metrics.DisplayPush(string(s.settings.Mode), string(outcome))
	switch outcome {
	case pushOK, pushNotModified:
		s.state.LastPushedText = text
		s.state.LastPushTime = now
		s.state.cursorShown = suffix != ""
		if s.onPush != nil {
			s.onPush(text)
		}
	case pushRateLimited:
		wait := sharederrors.RetryAfterOf(err)
		s.state.retryUntil = now.Add(wait)
		s.logger.Warn("Display update rate limited for %s, retry after %s", s.chat, wait)
	default:
		// The next successful push carries a superset of this text.
		s.state.LastPushTime = now
		s.logger.Warn("Display update for %s dropped: %v", s.chat, err)
	}
	return outcome
}

func classifyPush(err error) pushOutcome {
	switch {
	case err == nil:
		return pushOK
	case errors.Is(err, run.ErrMessageNotModified):
		return pushNotModified
	case sharederrors.IsRateLimited(err):
		return pushRateLimited
	default:
		return pushFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
