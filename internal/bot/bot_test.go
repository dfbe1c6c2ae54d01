package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"channel-gate/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []tgbotapi.MessageConfig
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

type staticReader struct {
	records models.Subscribers
	err     error
}

func (r staticReader) Lookup(_ context.Context, identity int64) (models.Subscription, bool, error) {
	if r.err != nil {
		return models.Subscription{}, false, r.err
	}
	rec, ok := r.records[identity]
	return rec, ok, nil
}

func command(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(text)},
		},
	}
}

var now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestBot(reader SubscriptionReader) (*Bot, *recordingSender) {
	sender := &recordingSender{}
	b := New(sender, reader, "https://gate.example", 2500, 30, time.UTC)
	b.now = func() time.Time { return now }
	return b, sender
}

func payButtonURL(t *testing.T, msg tgbotapi.MessageConfig) string {
	t.Helper()
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "expected an inline keyboard")
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	return *markup.InlineKeyboard[0][0].URL
}

func TestStartSendsPayButton(t *testing.T) {
	b, sender := newTestBot(staticReader{})

	b.HandleMessage(context.Background(), command(42, "/start"))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "₹2500/month")
	assert.Equal(t, "https://gate.example/pay?tg=42", payButtonURL(t, msg))
}

func TestStatusReplies(t *testing.T) {
	reader := staticReader{records: models.Subscribers{
		1: {ExpiryTS: now.Add(48 * time.Hour).Unix(), Status: models.StatusActive},
		2: {ExpiryTS: now.Add(-time.Hour).Unix(), Status: models.StatusExpired, ExpiredAt: "x"},
	}}
	b, sender := newTestBot(reader)
	ctx := context.Background()

	b.HandleMessage(ctx, command(1, "/status"))
	b.HandleMessage(ctx, command(2, "/status"))
	b.HandleMessage(ctx, command(3, "/status"))

	require.Len(t, sender.sent, 3)
	assert.Contains(t, sender.sent[0].Text, "active")
	assert.Contains(t, sender.sent[0].Text, "03 Mar 2025")
	assert.Nil(t, sender.sent[0].ReplyMarkup)

	assert.Contains(t, sender.sent[1].Text, "expired")
	assert.Equal(t, "https://gate.example/pay?tg=2", payButtonURL(t, sender.sent[1]))

	assert.Contains(t, sender.sent[2].Text, "don't have a subscription")
	assert.Equal(t, "https://gate.example/pay?tg=3", payButtonURL(t, sender.sent[2]))
}

func TestIgnoresOtherMessages(t *testing.T) {
	b, sender := newTestBot(staticReader{err: errors.New("unused")})
	ctx := context.Background()

	b.HandleMessage(ctx, &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"})
	b.HandleMessage(ctx, command(1, "/unknown"))
	b.HandleMessage(ctx, &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "/start"})

	// lookup failures are logged, nothing is sent
	b.HandleMessage(ctx, command(1, "/status"))

	assert.Empty(t, sender.sent)
}
