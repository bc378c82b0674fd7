package run

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotModified means an edit carried the text already shown.
	// Callers treat it as success.
	ErrMessageNotModified = errors.New("message is not modified")
	// ErrRichTextRejected means the transport could not parse formatted text.
	ErrRichTextRejected = errors.New("rich text rejected by transport")
	// ErrRunInProgress is returned when the chat already has a running agent.
	ErrRunInProgress = errors.New("an agent run is already in progress for this chat")
	// ErrNoRunningAgent is returned when there is nothing to terminate.
	ErrNoRunningAgent = errors.New("no agent is running for this chat")
)

// Messenger is the chat transport used by the scheduler and finalizer.
// Rate limits are reported as transient errors carrying a retry delay.
type Messenger interface {
	SendMessage(ctx context.Context, chat ChatContext, text string, format TextFormat) (string, error)
	EditMessage(ctx context.Context, chat ChatContext, messageID, text string, format TextFormat) error
	SendFile(ctx context.Context, chat ChatContext, path string) error
}
