package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/shared/logging"
)

// FileDelivery sends a file's content as chat messages followed by the file
// itself as an attachment.
type FileDelivery struct {
	messenger      run.Messenger
	maxMessageSize int
	logger         logging.Logger
}

// NewFileDelivery builds a FileDelivery bounded by maxMessageSize runes per message.
func NewFileDelivery(messenger run.Messenger, maxMessageSize int, logger logging.Logger) *FileDelivery {
	return &FileDelivery{
		messenger:      messenger,
		maxMessageSize: maxMessageSize,
		logger:         logging.OrNop(logger),
	}
}

// Deliver sends path's content and attachment to chat. The attachment is
// still sent when the content cannot be read or rendered.
func (d *FileDelivery) Deliver(ctx context.Context, chat run.ChatContext, path string) error {
	var errs []error
	content, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn("Read %s for %s failed: %v", path, chat, err)
		errs = append(errs, fmt.Errorf("read file: %w", err))
	} else {
		for _, msg := range transcript.FileMessages(filepath.Base(path), content, d.maxMessageSize) {
			format := run.FormatMarkdown
			if msg.HTML {
				format = run.FormatHTML
			}
			if _, err := sendWithFallback(ctx, d.messenger, chat, msg.Text, format); err != nil {
				d.logger.Warn("Send content of %s to %s failed: %v", path, chat, err)
				errs = append(errs, err)
				break
			}
		}
	}

	if err := d.messenger.SendFile(ctx, chat, path); err != nil {
		d.logger.Warn("Send attachment %s to %s failed: %v", path, chat, err)
		errs = append(errs, fmt.Errorf("send file: %w", err))
	}
	return errors.Join(errs...)
}

// sendWithFallback sends text in format, resending it unformatted when the
// transport rejects the formatting.
func sendWithFallback(ctx context.Context, messenger run.Messenger, chat run.ChatContext, text string, format run.TextFormat) (string, error) {
	id, err := messenger.SendMessage(ctx, chat, text, format)
	if err != nil && format != run.FormatPlain && errors.Is(err, run.ErrRichTextRejected) {
		return messenger.SendMessage(ctx, chat, text, run.FormatPlain)
	}
	return id, err
}

// editWithFallback edits messageID, retrying unformatted when the transport
// rejects the formatting. An unchanged message counts as success.
func editWithFallback(ctx context.Context, messenger run.Messenger, chat run.ChatContext, messageID, text string, format run.TextFormat) error {
	err := messenger.EditMessage(ctx, chat, messageID, text, format)
	if err != nil && format != run.FormatPlain && errors.Is(err, run.ErrRichTextRejected) {
		err = messenger.EditMessage(ctx, chat, messageID, text, run.FormatPlain)
	}
	if errors.Is(err, run.ErrMessageNotModified) {
		return nil
	}
	return err
}
