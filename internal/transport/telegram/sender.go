package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"zckyachmd/notifyrelay/internal/dispatch"
)

// DefaultRatePerSec stays below the Bot API global limit of 30 msg/s.
const DefaultRatePerSec = 25

// Messenger is the subset of *tgbotapi.BotAPI used for sending.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SendError describes a failed delivery.
type SendError struct {
	ChatID      int64
	Code        int
	Description string
	Err         error
}

func (e *SendError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender delivers relayed messages through the Bot API.
type Sender struct {
	api     Messenger
	limiter *rate.Limiter
}

// NewSender builds a sender paced at ratePerSec messages per second.
func NewSender(api Messenger, ratePerSec int) *Sender {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// Send implements dispatch.Sender.
func (s *Sender) Send(ctx context.Context, chatID int64, text string, opts dispatch.SendOptions) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait send slot: %w", err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification
	if _, err := s.api.Send(msg); err != nil {
		se := &SendError{ChatID: chatID, Err: err}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			se.Code = apiErr.Code
			se.Description = apiErr.Message
		}
		return se
	}
	return nil
}
