package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// BotAPI is the subset of *tgbotapi.BotAPI the bot needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Registry registers chats and hands out tokens.
type Registry interface {
	Register(ctx context.Context, chatID int64, username string) (token string, created bool, err error)
}

// Gate decides which chats may register.
type Gate interface {
	IsAllowed(chatID int64) bool
}

// Auditor records registration events.
type Auditor interface {
	Write(chatID int64, event string, status string, meta map[string]string)
}

// Bot answers chat messages with the chat's relay token.
type Bot struct {
	api      BotAPI
	users    Registry
	gate     Gate
	audit    Auditor
	logger   zerolog.Logger
	pollWait int
}

// New constructs bot handler.
func New(api BotAPI, users Registry, gate Gate, auditLog Auditor, logger zerolog.Logger, pollWait int) *Bot {
	return &Bot{
		api:      api,
		users:    users,
		gate:     gate,
		audit:    auditLog,
		logger:   logger,
		pollWait: pollWait,
	}
}

// Start begins polling loop.
func (b *Bot) Start(ctx context.Context) error {
	ucfg := tgbotapi.NewUpdate(0)
	ucfg.Timeout = b.pollWait
	updates := b.api.GetUpdatesChan(ucfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleMessageSafe(ctx, update.Message)
			}
		}
	}
}

// handleMessageSafe ensures panics are recovered and logged.
func (b *Bot) handleMessageSafe(ctx context.Context, m *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("panic in handler")
		}
	}()
	b.handleMessage(ctx, m)
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	if b.gate != nil && !b.gate.IsAllowed(m.Chat.ID) {
		b.write(m.Chat.ID, "deny", nil)
		return // silent drop
	}
	if m.IsCommand() && strings.ToLower(m.Command()) == "help" {
		b.reply(m.Chat.ID, helpText())
		return
	}
	// /start, /token and plain text all register
	b.register(ctx, m.Chat)
}

func (b *Bot) register(ctx context.Context, chat *tgbotapi.Chat) {
	token, created, err := b.users.Register(ctx, chat.ID, chat.UserName)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat", chat.ID).Msg("register failed")
		b.write(chat.ID, "error", map[string]string{"err": err.Error()})
		b.reply(chat.ID, "Registration failed, please try again later.")
		return
	}
	if !created {
		b.reply(chat.ID, "You are already in the list of watchers. Your access token is \n"+token)
		return
	}
	b.logger.Info().Str("username", chat.UserName).Int64("chat", chat.ID).Msg("user registered")
	b.write(chat.ID, "ok", map[string]string{"username": chat.UserName})
	b.reply(chat.ID, "Congrats! You are now added to the bot. Use the token \n"+token+"\n to authenticate.")
}

func (b *Bot) write(chatID int64, status string, meta map[string]string) {
	if b.audit != nil {
		b.audit.Write(chatID, "register", status, meta)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat", chatID).Msg("reply failed")
	}
}

func helpText() string {
	return strings.Join([]string{
		"Send any message (or /start) to receive your access token.",
		"/token - show your access token",
		"/help - this message",
		"",
		"Relay a notification:",
		"GET /out?user=<token>&title=<title>&message=<text>&url=<link>",
	}, "\n")
}
