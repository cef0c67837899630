// Package alert pushes operator notifications. Delivery is
// fire-and-forget: a slow or failing notifier must never block the
// trading loop.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier delivers one operator-facing message.
type Notifier interface {
	Notify(text string)
}

// Nop drops all notifications.
type Nop struct{}

func (Nop) Notify(string) {}

// Telegram sends messages to a fixed chat through the bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
	queue  chan string
}

// NewTelegram authenticates the bot and starts the sender loop.
func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, 64),
	}
	go t.sendLoop()
	return t, nil
}

// Notify queues the message; if the queue is saturated the message is
// dropped rather than blocking the caller.
func (t *Telegram) Notify(text string) {
	select {
	case t.queue <- text:
	default:
		t.log.Warn().Msg("alert queue saturated, message dropped")
	}
}

func (t *Telegram) sendLoop() {
	for text := range t.queue {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Warn().Err(err).Msg("telegram send failed")
		}
	}
}
