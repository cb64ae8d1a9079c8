// Package notify delivers operator alerts (basket flatten, emergency
// scale-ups, protective exits) to a human.
package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/evdnx/goguard/logger"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) Send(msg string) { n.log.Info("alert", logger.String("msg", msg)) }

func (n *LogNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

// Telegram is a passive notifier posting to one chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    logger.Logger
}

func NewTelegram(token string, chatID int64, log logger.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{bot: b, chatID: chatID, log: log}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram_send_failed", logger.Err(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }
