package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay/internal/domain/run"
	sharederrors "relay/internal/shared/errors"
	jsonx "relay/internal/shared/json"
	"relay/internal/shared/logging"
)

const downloadTimeout = time.Minute

// Messenger implements run.Messenger over the Bot API.
type Messenger struct {
	api    API
	client *http.Client
	logger logging.Logger
}

// NewMessenger wraps api.
func NewMessenger(api API, logger logging.Logger) *Messenger {
	return &Messenger{
		api:    api,
		client: &http.Client{Timeout: downloadTimeout},
		logger: logging.OrNop(logger),
	}
}

var _ run.Messenger = (*Messenger)(nil)

func (m *Messenger) SendMessage(ctx context.Context, chat run.ChatContext, text string, format run.TextFormat) (string, error) {
	params := chatParams(chat)
	params["text"] = text
	params.AddNonEmpty("parse_mode", parseMode(format))
	params.AddBool("disable_web_page_preview", true)
	return m.send(ctx, "sendMessage", params)
}

func (m *Messenger) EditMessage(ctx context.Context, chat run.ChatContext, messageID, text string, format run.TextFormat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("edit message: invalid message id %q", messageID)
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chat.ChatID)
	params.AddNonZero("message_id", id)
	params["text"] = text
	params.AddNonEmpty("parse_mode", parseMode(format))
	params.AddBool("disable_web_page_preview", true)
	_, err = m.api.MakeRequest("editMessageText", params)
	return classify("editMessageText", err)
}

func (m *Messenger) SendFile(ctx context.Context, chat run.ChatContext, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	files := []tgbotapi.RequestFile{{Name: "document", Data: tgbotapi.FilePath(path)}}
	if _, err := m.api.UploadFiles("sendDocument", chatParams(chat), files); err != nil {
		return classify("sendDocument", fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return nil
}

// SendKeyboard sends text with an inline keyboard attached.
func (m *Messenger) SendKeyboard(ctx context.Context, chat run.ChatContext, text string, markup tgbotapi.InlineKeyboardMarkup) (string, error) {
	params := chatParams(chat)
	params["text"] = text
	if err := params.AddInterface("reply_markup", markup); err != nil {
		return "", fmt.Errorf("encode keyboard: %w", err)
	}
	return m.send(ctx, "sendMessage", params)
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (m *Messenger) AnswerCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("callback_query_id", callbackID)
	_, err := m.api.MakeRequest("answerCallbackQuery", params)
	return classify("answerCallbackQuery", err)
}

// Download fetches an uploaded file, refusing anything larger than limit
// bytes. Errors never carry the file URL, which embeds the bot token.
func (m *Messenger) Download(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	link, err := m.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, classify("getFile", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: build request failed", fileID)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, sharederrors.NewTransientError(fmt.Errorf("download %s: %w", fileID, err), "telegram file download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: %s", fileID, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("download %s: file exceeds %d bytes", fileID, limit)
	}
	return data, nil
}

func (m *Messenger) send(ctx context.Context, endpoint string, params tgbotapi.Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := m.api.MakeRequest(endpoint, params)
	if err != nil {
		return "", classify(endpoint, err)
	}
	var msg tgbotapi.Message
	if err := jsonx.Unmarshal(resp.Result, &msg); err != nil {
		return "", fmt.Errorf("%s: decode result: %w", endpoint, err)
	}
	return strconv.Itoa(msg.MessageID), nil
}
