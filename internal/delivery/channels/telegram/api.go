// Package telegram connects the relay to the Telegram Bot API: a Messenger
// used by the engine and a Gateway that polls updates and dispatches chat
// commands.
package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay/internal/domain/run"
	sharederrors "relay/internal/shared/errors"
)

// API is the subset of *tgbotapi.BotAPI the relay uses. Requests go through
// MakeRequest so fields the typed configs lack, such as message_thread_id,
// can be sent.
type API interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// NewBotAPI authenticates token against the Bot API.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// classify maps Bot API failures onto the relay's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return sharederrors.NewTransientError(fmt.Errorf("%s: %w", op, err), "telegram request failed")
	}
	lower := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests:
		retryAfter := apiErr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 1
		}
		return sharederrors.NewRateLimitError(fmt.Errorf("%s: %w", op, err), retryAfter)
	case strings.Contains(lower, "message is not modified"):
		return fmt.Errorf("%s: %w", op, run.ErrMessageNotModified)
	case strings.Contains(lower, "can't parse entities") || strings.Contains(lower, "can't find end of the entity"):
		return sharederrors.NewDegradedError(
			fmt.Errorf("%s: %w: %s", op, run.ErrRichTextRejected, apiErr.Message),
			fmt.Sprintf("%s: formatting rejected (%s), plain text fallback", op, apiErr.Message),
			"",
		)
	case apiErr.Code >= http.StatusInternalServerError:
		return sharederrors.NewTransientError(fmt.Errorf("%s: %w", op, err), "telegram server error")
	default:
		return sharederrors.NewPermanentError(fmt.Errorf("%s: %w", op, err), apiErr.Message)
	}
}

func parseMode(format run.TextFormat) string {
	switch format {
	case run.FormatMarkdown:
		return tgbotapi.ModeMarkdown
	case run.FormatHTML:
		return tgbotapi.ModeHTML
	default:
		return ""
	}
}

func chatParams(chat run.ChatContext) tgbotapi.Params {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chat.ChatID)
	params.AddNonZero("message_thread_id", chat.ThreadID)
	return params
}
