package bot

import (
	"context"
	"fmt"
	"html"
	"time"

	"channel-gate/internal/models"
	"channel-gate/internal/services"
	"channel-gate/pkg/logging"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender sends outgoing bot messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SubscriptionReader answers status queries
type SubscriptionReader interface {
	Lookup(ctx context.Context, identity int64) (models.Subscription, bool, error)
}

// Bot answers subscriber commands in private chats
type Bot struct {
	sender      Sender
	engine      SubscriptionReader
	baseURL     string
	priceINR    int
	days        int
	location    *time.Location
	pollTimeout int
	now         func() time.Time
}

// New creates a command bot
func New(sender Sender, engine SubscriptionReader, baseURL string, priceINR, days int, location *time.Location) *Bot {
	if location == nil {
		location = time.UTC
	}
	return &Bot{
		sender:      sender,
		engine:      engine,
		baseURL:     baseURL,
		priceINR:    priceINR,
		days:        days,
		location:    location,
		pollTimeout: 30,
		now:         time.Now,
	}
}

// SetPollTimeout sets the long-poll wait in seconds; it must stay below the HTTP client timeout
func (b *Bot) SetPollTimeout(seconds int) {
	if seconds < 1 {
		seconds = 1
	}
	b.pollTimeout = seconds
}

// Run long-polls api for updates until ctx is cancelled
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := api.GetUpdatesChan(u)

	logging.Infof("Bot polling started - username: @%s", api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			logging.Infof("Bot polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			if update.Message != nil {
				b.HandleMessage(ctx, update.Message)
			}
		}
	}
}

// HandleMessage dispatches one incoming message
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.IsCommand() {
		return
	}

	var err error
	switch msg.Command() {
	case "start":
		err = b.sendWelcome(msg.Chat.ID, msg.From.ID)
	case "status":
		err = b.sendStatus(ctx, msg.Chat.ID, msg.From.ID)
	default:
		return
	}
	if err != nil {
		logging.Errorf("Failed to answer /%s - user: %d, error: %v", msg.Command(), msg.From.ID, err)
	}
}

func (b *Bot) payKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(fmt.Sprintf("💳 Pay ₹%d & Join", b.priceINR), services.PayURL(b.baseURL, userID)),
		),
	)
}

func (b *Bot) sendWelcome(chatID, userID int64) error {
	text := fmt.Sprintf(
		"🙏 <b>Welcome!</b>\n\n"+
			"Our <b>premium community</b> shares curated insights, discipline and guidance every day "+
			"so you can keep making better decisions over the next %d days.\n\n"+
			"💰 <b>Fee:</b> ₹%d/month\n"+
			"👇 Tap the button below to pay securely and join right away.",
		b.days, b.priceINR,
	)
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyMarkup = b.payKeyboard(userID)
	_, err := b.sender.Send(reply)
	return err
}

func (b *Bot) sendStatus(ctx context.Context, chatID, userID int64) error {
	rec, found, err := b.engine.Lookup(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	reply := tgbotapi.NewMessage(chatID, b.statusText(rec, found))
	reply.ParseMode = tgbotapi.ModeHTML
	if !found || rec.Status != models.StatusActive {
		reply.ReplyMarkup = b.payKeyboard(userID)
	}
	_, err = b.sender.Send(reply)
	return err
}

func (b *Bot) statusText(rec models.Subscription, found bool) string {
	if !found {
		return "You don't have a subscription yet. Tap below to join."
	}
	until := html.EscapeString(rec.ExpiresAt().In(b.location).Format("02 Jan 2006 15:04 MST"))
	if rec.Status == models.StatusActive && rec.ExpiryTS > b.now().Unix() {
		return fmt.Sprintf("✅ Your subscription is <b>active</b> until %s.", until)
	}
	if rec.Status == models.StatusActive {
		return fmt.Sprintf("⌛ Your subscription ended on %s and access is being removed. Renew below.", until)
	}
	return fmt.Sprintf("❌ Your subscription <b>expired</b> on %s. Renew below.", until)
}
