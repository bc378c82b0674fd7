package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/domain/run"
	sharederrors "relay/internal/shared/errors"
)

func TestMessengerSendAndEdit(t *testing.T) {
	api := newFakeAPI()
	m := NewMessenger(api, nil)
	ctx := context.Background()

	id, err := m.SendMessage(ctx, run.ChatContext{ChatID: 42}, "*hi*", run.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	id, err = m.SendMessage(ctx, run.ChatContext{ChatID: -100, ThreadID: 7}, "plain", run.FormatPlain)
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	require.NoError(t, m.EditMessage(ctx, run.ChatContext{ChatID: 42}, "1", "<b>x</b>", run.FormatHTML))

	sends := api.callsTo("sendMessage")
	require.Len(t, sends, 2)
	assert.Equal(t, "42", sends[0].Params["chat_id"])
	assert.Equal(t, "Markdown", sends[0].Params["parse_mode"])
	assert.NotContains(t, sends[0].Params, "message_thread_id")
	assert.Equal(t, "-100", sends[1].Params["chat_id"])
	assert.Equal(t, "7", sends[1].Params["message_thread_id"])
	assert.NotContains(t, sends[1].Params, "parse_mode")

	edits := api.callsTo("editMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, "1", edits[0].Params["message_id"])
	assert.Equal(t, "HTML", edits[0].Params["parse_mode"])

	assert.Error(t, m.EditMessage(ctx, run.ChatContext{ChatID: 42}, "not-a-number", "x", run.FormatPlain))
}

func TestMessengerSendFile(t *testing.T) {
	api := newFakeAPI()
	m := NewMessenger(api, nil)

	require.NoError(t, m.SendFile(context.Background(), run.ChatContext{ChatID: 42, ThreadID: 3}, "/tmp/notes.txt"))
	uploads := api.callsTo("sendDocument")
	require.Len(t, uploads, 1)
	require.Len(t, uploads[0].Files, 1)
	assert.Equal(t, "document", uploads[0].Files[0].Name)
	assert.Equal(t, tgbotapi.FilePath("/tmp/notes.txt"), uploads[0].Files[0].Data)
	assert.Equal(t, "3", uploads[0].Params["message_thread_id"])
}

func TestMessengerHonoursCancelledContext(t *testing.T) {
	api := newFakeAPI()
	m := NewMessenger(api, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SendMessage(ctx, authorizedChat, "x", run.FormatPlain)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.texts())
}

func TestClassify(t *testing.T) {
	rateLimited := classify("sendMessage", &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 3",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3},
	})
	assert.True(t, sharederrors.IsTransient(rateLimited))
	assert.Equal(t, 3*time.Second, sharederrors.RetryAfterOf(rateLimited))

	notModified := classify("editMessageText", &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified: specified new message content and reply markup are exactly the same"})
	assert.ErrorIs(t, notModified, run.ErrMessageNotModified)

	badMarkdown := classify("sendMessage", &tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12"})
	assert.ErrorIs(t, badMarkdown, run.ErrRichTextRejected)
	assert.True(t, sharederrors.IsDegraded(badMarkdown))

	notFound := classify("editMessageText", &tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"})
	assert.True(t, sharederrors.IsPermanent(notFound))

	serverErr := classify("sendMessage", &tgbotapi.Error{Code: 502, Message: "Bad Gateway"})
	assert.True(t, sharederrors.IsTransient(serverErr))

	network := classify("sendMessage", errors.New("dial tcp: connection refused"))
	assert.True(t, sharederrors.IsTransient(network))

	assert.NoError(t, classify("sendMessage", nil))
}

func TestMessengerMapsRateLimit(t *testing.T) {
	api := newFakeAPI()
	api.failNext("editMessageText", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}})
	m := NewMessenger(api, nil)

	err := m.EditMessage(context.Background(), authorizedChat, "1", "x", run.FormatPlain)
	assert.Equal(t, 5*time.Second, sharederrors.RetryAfterOf(err))
}

func TestMessengerDownload(t *testing.T) {
	api := newFakeAPI()
	m := NewMessenger(api, nil)
	ctx := context.Background()

	_, err := m.Download(ctx, "doc-1", 1024)
	assert.True(t, sharederrors.IsPermanent(err), "unknown file ids are not retried")

	api.serveFiles(t, map[string]string{"doc-1": "# Mine\n", "big": "0123456789"})
	data, err := m.Download(ctx, "doc-1", 1024)
	require.NoError(t, err)
	assert.Equal(t, "# Mine\n", string(data))

	_, err = m.Download(ctx, "big", 4)
	assert.ErrorContains(t, err, "exceeds 4 bytes")

	_, err = m.Download(ctx, "missing", 1024)
	assert.ErrorContains(t, err, "404")
}
