package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"channel-gate/pkg/logging"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatPlatform is the subset of the Telegram Bot API the core relies on
type ChatPlatform interface {
	CreateSingleUseInvite(ctx context.Context, expireAt time.Time) (string, error)
	RevokeMembership(ctx context.Context, userID int64) error
	SendDirectMessage(ctx context.Context, userID int64, text string) error
}

// TelegramClient talks to the Bot API for one restricted channel
type TelegramClient struct {
	bot      *tgbotapi.BotAPI
	channel  tgbotapi.ChatConfig
	banUnban bool
}

// Channel addresses the channel by numeric ID, or by @username when id is zero
func Channel(id int64, username string) tgbotapi.ChatConfig {
	if id != 0 {
		return tgbotapi.ChatConfig{ChatID: id}
	}
	return tgbotapi.ChatConfig{SuperGroupUsername: username}
}

// NewTelegramClient connects with the default API endpoint
func NewTelegramClient(token string, channel tgbotapi.ChatConfig, banUnban bool, timeout time.Duration) (*TelegramClient, error) {
	return NewTelegramClientWithEndpoint(token, tgbotapi.APIEndpoint, channel, banUnban, &http.Client{Timeout: timeout})
}

// NewTelegramClientWithEndpoint allows pointing at a different Bot API server
// endpoint uses the tgbotapi format "https://host/bot%s/%s".
func NewTelegramClientWithEndpoint(token, endpoint string, channel tgbotapi.ChatConfig, banUnban bool, httpClient *http.Client) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	return &TelegramClient{
		bot:      bot,
		channel:  channel,
		banUnban: banUnban,
	}, nil
}

// API exposes the bot for the command loop
func (c *TelegramClient) API() *tgbotapi.BotAPI {
	return c.bot
}

// CreateSingleUseInvite creates a channel invite link limited to one member
func (c *TelegramClient) CreateSingleUseInvite(ctx context.Context, expireAt time.Time) (string, error) {
	return withContext(ctx, func() (string, error) {
		resp, err := c.bot.Request(tgbotapi.CreateChatInviteLinkConfig{
			ChatConfig:  c.channel,
			ExpireDate:  int(expireAt.Unix()),
			MemberLimit: 1,
		})
		if err != nil {
			return "", fmt.Errorf("createChatInviteLink: %w", err)
		}

		var invite tgbotapi.ChatInviteLink
		if err := json.Unmarshal(resp.Result, &invite); err != nil {
			return "", fmt.Errorf("decode invite link: %w", err)
		}
		if invite.InviteLink == "" {
			return "", fmt.Errorf("createChatInviteLink returned an empty link")
		}
		return invite.InviteLink, nil
	})
}

// RevokeMembership removes userID from the channel and leaves them free to rejoin.
// unbanChatMember without only_if_banned kicks a current member without a ban.
func (c *TelegramClient) RevokeMembership(ctx context.Context, userID int64) error {
	member := tgbotapi.ChatMemberConfig{
		ChatID:             c.channel.ChatID,
		SuperGroupUsername: c.channel.SuperGroupUsername,
		UserID:             userID,
	}
	_, err := withContext(ctx, func() (struct{}, error) {
		if c.banUnban {
			if _, err := c.bot.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
				return struct{}{}, fmt.Errorf("banChatMember %d: %w", userID, err)
			}
			if _, err := c.bot.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true}); err != nil {
				return struct{}{}, fmt.Errorf("unbanChatMember %d: %w", userID, err)
			}
			return struct{}{}, nil
		}

		if _, err := c.bot.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member}); err != nil {
			return struct{}{}, fmt.Errorf("unbanChatMember %d: %w", userID, err)
		}
		return struct{}{}, nil
	})
	return err
}

// SendDirectMessage sends an HTML formatted message to a user
func (c *TelegramClient) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	_, err := withContext(ctx, func() (tgbotapi.Message, error) {
		msg := tgbotapi.NewMessage(userID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		sent, err := c.bot.Send(msg)
		if err != nil {
			return sent, fmt.Errorf("sendMessage %d: %w", userID, err)
		}
		return sent, nil
	})
	return err
}

// withContext runs a blocking call and gives up when ctx ends.
// The HTTP client timeout bounds the abandoned call.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// UseServiceLoggerForTelegram routes the Bot API library's log output through the service logger
func UseServiceLoggerForTelegram() {
	_ = tgbotapi.SetLogger(botLogger{})
}

type botLogger struct{}

func (botLogger) Println(v ...interface{}) {
	logging.Warnf("telegram: %s", fmt.Sprint(v...))
}

func (botLogger) Printf(format string, v ...interface{}) {
	logging.Warnf("telegram: "+format, v...)
}
