package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay/internal/domain/run"
	jsonx "relay/internal/shared/json"
)

// incoming is the part of an update the gateway acts on.
type incoming struct {
	UpdateID int
	Chat     run.ChatContext
	Sender   string
	Text     string
	Voice    bool
	Document *document
	Callback *callbackQuery
}

type document struct {
	FileID   string
	FileName string
	FileSize int
}

type callbackQuery struct {
	ID        string
	Data      string
	MessageID int
}

// topicProbe reads the forum topic fields the typed updates do not carry.
type topicProbe struct {
	Message       *topicMessage `json:"message"`
	CallbackQuery *struct {
		Message *topicMessage `json:"message"`
	} `json:"callback_query"`
}

type topicMessage struct {
	ThreadID int  `json:"message_thread_id"`
	IsTopic  bool `json:"is_topic_message"`
}

func (m *topicMessage) thread() int {
	if m == nil || !m.IsTopic {
		return 0
	}
	return m.ThreadID
}

// fetchUpdates long-polls getUpdates starting at offset.
func fetchUpdates(api API, offset, timeoutSeconds int) ([]incoming, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", timeoutSeconds)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
		return nil, err
	}
	resp, err := api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, classify("getUpdates", err)
	}
	return decodeUpdates(resp.Result)
}

func decodeUpdates(raw []byte) ([]incoming, error) {
	var updates []tgbotapi.Update
	if err := jsonx.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	var probes []topicProbe
	if err := jsonx.Unmarshal(raw, &probes); err != nil {
		return nil, fmt.Errorf("decode update topics: %w", err)
	}

	out := make([]incoming, 0, len(updates))
	for i, update := range updates {
		in := incoming{UpdateID: update.UpdateID}
		var probe topicProbe
		if i < len(probes) {
			probe = probes[i]
		}
		switch {
		case update.CallbackQuery != nil:
			cb := update.CallbackQuery
			if cb.Message == nil || cb.Message.Chat == nil {
				out = append(out, in)
				continue
			}
			in.Chat = run.ChatContext{ChatID: cb.Message.Chat.ID}
			if probe.CallbackQuery != nil {
				in.Chat.ThreadID = probe.CallbackQuery.Message.thread()
			}
			in.Sender = userName(cb.From)
			in.Callback = &callbackQuery{ID: cb.ID, Data: cb.Data, MessageID: cb.Message.MessageID}
		case update.Message != nil && update.Message.Chat != nil:
			msg := update.Message
			in.Chat = run.ChatContext{ChatID: msg.Chat.ID, ThreadID: probe.Message.thread()}
			in.Sender = userName(msg.From)
			in.Text = msg.Text
			in.Voice = msg.Voice != nil || msg.Audio != nil
			if doc := msg.Document; doc != nil {
				in.Document = &document{FileID: doc.FileID, FileName: doc.FileName, FileSize: doc.FileSize}
			}
		}
		out = append(out, in)
	}
	return out, nil
}

func userName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}
